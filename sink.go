package pinvault

// FileSink is the host-provided capability for moving backup files in
// and out of the application sandbox. The persist package ships a
// filesystem implementation (absfs-backed) and an S3 implementation
// (minio-backed); mobile hosts typically bridge to their platform file
// and share dialogs.
type FileSink interface {
	// Write persists an encoded backup and returns the path it was
	// written to.
	Write(data []byte) (path string, err error)

	// Read loads a previously written backup.
	Read(path string) ([]byte, error)

	// Share makes a written backup available outside the application
	// (export directory, share sheet, presigned URL) and returns the
	// shared location.
	Share(path string) (location string, err error)

	// Pick selects an existing backup to import. Returns ErrCancelled
	// when there is nothing to pick or the user dismissed the dialog.
	Pick() (path string, err error)
}
