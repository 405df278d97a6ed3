package objectstore

import "fmt"

// RawDocumentKey returns the object key under which an uploaded document's
// original bytes are stored, namespaced by session so a bucket or in-memory
// store can hold many sessions' uploads side by side.
func RawDocumentKey(sessionID, documentID string) string {
	return fmt.Sprintf("raw/%s/%s", sessionID, documentID)
}

// ImageKey returns the object key for the nth extracted image belonging to
// a document, stored under basePath so deployments can point different
// document types (or tenants) at different prefixes of the same bucket.
func ImageKey(basePath, sessionID, documentID string, index int, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%d.%s", basePath, sessionID, documentID, index, ext)
}
