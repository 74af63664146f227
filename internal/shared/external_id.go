package shared

// ExternalID is the provider-side identifier of a locally owned record. The
// zero value means the record has never been synced; a linked value is the
// real id assigned by the provider. Storing the distinction in the type
// avoids sentinel string prefixes in the database and in callers.
type ExternalID struct {
	id string
}

// LinkExternalID wraps a real provider id. An empty id stays unlinked.
func LinkExternalID(id string) ExternalID {
	return ExternalID{id: id}
}

// Linked reports whether a real provider id is present.
func (e ExternalID) Linked() bool {
	return e.id != ""
}

// String returns the provider id, or "" while unlinked.
func (e ExternalID) String() string {
	return e.id
}
