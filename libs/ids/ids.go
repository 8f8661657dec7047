// Package ids generates identifiers that are shown to people.
package ids

import (
	"strings"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// referenceAlphabet drops characters that are easy to misread (0/O, 1/I/L).
const referenceAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const referenceLength = 8

// NewReference returns a short booking code such as "K7QX2MHD".
func NewReference() string {
	ref, err := gonanoid.Generate(referenceAlphabet, referenceLength)
	if err != nil {
		return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:referenceLength])
	}
	return ref
}
