package service

import (
	"errors"
	"fmt"

	"github.com/Rainnny7/LicenseServer/internal/keyexchange"
	"github.com/Rainnny7/LicenseServer/internal/model"
)

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrInvalidIP       = errors.New("invalid ip address")
	ErrInvalidHWID     = errors.New("invalid hwid")
	ErrLicenseNotFound = errors.New("license not found")
	ErrLicenseExpired  = errors.New("license has expired")

	ErrSignature         = keyexchange.ErrSignature
	ErrIPLimitExceeded   = model.ErrIPLimitExceeded
	ErrHWIDLimitExceeded = model.ErrHWIDLimitExceeded
)

// PersistenceError 存储层读写失败，Op 为 find/insert/save/delete/count
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
