package record

import (
	"strings"

	"github.com/google/uuid"
)

const tempIDPrefix = "local-"

// TempIDProvider issues placeholder identifiers for entities created offline.
type TempIDProvider interface {
	NewTempID() (string, error)
}

type uuidTempIDProvider struct{}

// NewTempIDProvider constructs a provider issuing "local-" prefixed UUIDv7 ids.
func NewTempIDProvider() TempIDProvider {
	return &uuidTempIDProvider{}
}

func (p *uuidTempIDProvider) NewTempID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return tempIDPrefix + value.String(), nil
}

// IsTempID reports whether an identifier is a local placeholder awaiting a
// server-issued replacement.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}
