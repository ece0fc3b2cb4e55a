package engine

import "github.com/google/uuid"

// AuthorIDProvider mints a fresh author identifier for a new replica open.
// kvsync never reuses an author id across opens (see DESIGN.md, "author
// identity vs. session identity") — each Open call is stamped with a
// brand new identity.
type AuthorIDProvider interface {
	NewAuthorID() (string, error)
}

type uuidAuthorProvider struct{}

// NewUUIDAuthorProvider returns an AuthorIDProvider that issues UUIDv7
// identifiers.
func NewUUIDAuthorProvider() AuthorIDProvider {
	return uuidAuthorProvider{}
}

func (uuidAuthorProvider) NewAuthorID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
