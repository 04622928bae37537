package runner

import "github.com/pkg/errors"

var (
	// ErrSchemaDrift means an existing index conflicts with its declaration.
	ErrSchemaDrift = errors.New("schema drift")
	// ErrSchemaMissing means a verify run found undeclared gaps.
	ErrSchemaMissing = errors.New("schema objects missing")
)
