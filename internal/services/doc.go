// Package services holds the error taxonomy shared by the external
// collaborators (record store, inference, media tools) and the helpers used
// to tag failures so the engine can classify them.
package services
