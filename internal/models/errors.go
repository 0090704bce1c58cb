package models

import "errors"

var (
	ErrClassificationFailure   = errors.New("classification failure")
	ErrPersistenceUnavailable  = errors.New("persistence unavailable")
	ErrImageDownload           = errors.New("image download failed")
	ErrImageFormatUnrecognized = errors.New("image format unrecognized")
	ErrImageConversionFailed   = errors.New("image conversion failed")
	ErrGatewayTimeout          = errors.New("gateway timeout")
)
