package models

import "errors"

// ErrNotFound запись пользователя отсутствует в хранилище.
var ErrNotFound = errors.New("not found")
