package repository

import "errors"

// Repository errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrDuplicate запись уже существует
	ErrDuplicate = errors.New("already exists")

	// ErrInvalidData неверные данные
	ErrInvalidData = errors.New("invalid data")
)
