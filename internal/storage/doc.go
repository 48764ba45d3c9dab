// Package storage is the object-storage gateway used by the deploy
// commands: listing a bucket and putting single objects.
//
// [S3] talks to AWS S3 or any S3-compatible endpoint through the AWS SDK v2,
// listing through the ListObjectsV2 paginator and uploading through the
// s3 upload manager. [BucketResolver] looks bucket names up in SSM
// Parameter Store. Tests use the recording fake in storagetest.
package storage
