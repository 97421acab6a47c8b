// Package keys centralizes the three object-store path layouts so the
// Object Store Gateway and the Indexing Pipeline never hand-format a path
// independently. Keys are relative to their bucket; the bucket name is not
// repeated inside the key.
package keys

import "fmt"

// Upload returns the storage_key for a video's original upload, in the
// uploads bucket.
func Upload(userID, videoID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", userID, videoID, filename)
}

// Sidecar returns the storage_key for a scene's sidecar JSON, in the
// sidecars bucket.
func Sidecar(userID, videoID, sceneID string) string {
	return fmt.Sprintf("%s/%s/%s.json", userID, videoID, sceneID)
}

// Tmp returns an ephemeral scratch key under the video's prefix in the tmp
// bucket. May be garbage-collected at any time; never referenced after the
// pipeline run that created it completes.
func Tmp(videoID, name string) string {
	return fmt.Sprintf("%s/%s", videoID, name)
}

const (
	BucketUploads  = "uploads"
	BucketSidecars = "sidecars"
	BucketTmp      = "tmp"
)
