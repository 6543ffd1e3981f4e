package model

import "strings"

// PersonKey is the normalized (name, record number) pair that fans shared
// notes and charge items out across every event belonging to the same person.
type PersonKey struct {
	Name         string
	RecordNumber string
}

// NormalizePersonKey folds case and collapses whitespace so that cosmetic
// differences in hand-entered names never split a person's shared records.
func NormalizePersonKey(name, recordNumber string) PersonKey {
	return PersonKey{
		Name:         foldWhitespace(strings.ToLower(name)),
		RecordNumber: foldWhitespace(strings.ToLower(recordNumber)),
	}
}

// IsZero reports whether both components normalized to nothing.
func (k PersonKey) IsZero() bool {
	return k.Name == "" && k.RecordNumber == ""
}

// String renders the key in its canonical storage form.
func (k PersonKey) String() string {
	return k.Name + "\x1f" + k.RecordNumber
}

func foldWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
