// Package blobstore provides pluggable blob storage for archived
// write-ahead log segments and snapshots.
//
// The durability layer works entirely against the local data
// directory. Archiving to a Store is an optional second tier: once a
// segment or snapshot has been sealed locally it can be uploaded to a
// Store and recorded in a Catalog, giving the database a restore point
// that survives the loss of the host.
//
// LocalStore covers single-host setups and tests. The s3 and minio
// subpackages provide object storage backends, with an optional
// DynamoDB catalog for coordinated commits.
package blobstore
