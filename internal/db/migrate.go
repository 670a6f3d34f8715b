package db

import (
	"image-annotation-service/internal/annotation"
	"image-annotation-service/internal/element"
	"image-annotation-service/internal/image"
)

// Migrate runs database migrations and seeds the version counter
func Migrate() error {
	err := AppDb.AutoMigrate(
		&image.Folder{},
		&image.Item{},
		&annotation.Annotation{},
		&element.Record{},
		&element.SequenceRow{},
	)
	if err != nil {
		return err
	}
	return element.EnsureSequence(AppDb)
}
