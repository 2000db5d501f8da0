package service

import "errors"

var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrInvalidAuction  = errors.New("invalid auction parameters")
	ErrProductNotFound = errors.New("product not found in catalog")
)
