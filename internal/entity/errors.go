package entity

import "errors"

// Domain errors for the entity package.
var (
	// ErrEntityNotFound is returned when an entity id is not registered.
	ErrEntityNotFound = errors.New("entity: not found")

	// ErrEntityExists is returned when an entity id or (platform, unique id)
	// pair is already taken.
	ErrEntityExists = errors.New("entity: already exists")

	// ErrInvalidRegistration is returned when a registration lacks its
	// domain, platform or unique id.
	ErrInvalidRegistration = errors.New("entity: invalid registration")

	// ErrInvalidEntityID is returned for ids not of the form domain.object_id.
	ErrInvalidEntityID = errors.New("entity: invalid entity id")
)
