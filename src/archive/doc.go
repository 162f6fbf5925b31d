// Package archive moves validator ledger state in and out of gzip compressed
// tar archives.
//
// Import only keeps ledger state files and wallet keys, identified by their
// suffix, and flattens them into the working directory regardless of how they
// are nested inside the archive. Export packs every file of a working
// directory under a single root directory named after the archive.
//
// Archives can live on the local filesystem or in S3, in which case they are
// addressed with s3://bucket/key URLs.
package archive
