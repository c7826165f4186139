package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// unique制約違反
	ErrDuplicate = errors.New("duplicate key")

	// 条件付き更新が0件（他のTxが先に書き換えた）
	ErrConflict = errors.New("conflicting update")
)
