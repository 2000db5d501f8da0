package catalog

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestPostgresCatalog_Snapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	c := NewPostgresCatalog(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
		WithArgs("p-42").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "image_url", "category"}).
			AddRow("p-42", "1804 Draped Bust Dollar", "/img/1804.jpg", "Rarities"))

	p, err := c.Snapshot(context.Background(), "p-42")
	assert.NoError(t, err)
	check.Equal(t, "p-42", p.ProductID)
	check.Equal(t, "1804 Draped Bust Dollar", p.Name)
	check.Equal(t, "/img/1804.jpg", p.ImageURL)
	check.Equal(t, "Rarities", p.Category)
	check.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCatalog_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	c := NewPostgresCatalog(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM products WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "image_url", "category"}))

	_, err = c.Snapshot(context.Background(), "nope")
	check.True(t, errors.Is(err, ErrProductNotFound))
}
