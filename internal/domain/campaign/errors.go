package campaign

import "errors"

var ErrApplicationNotFound = errors.New("campaign application not found")
