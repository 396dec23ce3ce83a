package model

import (
	"strings"

	"github.com/google/uuid"
)

// DocumentID derives a stable document identifier from a document name and
// the identities of the resources it renders. Regenerating the same inputs
// yields the same identifier, which keeps generated output reproducible.
func DocumentID(documentName string, resources []Resource) string {
	keys := make([]string, 0, len(resources)+1)
	keys = append(keys, documentName)
	for _, r := range resources {
		keys = append(keys, r.Key())
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(keys, "\n"))).String()
}
