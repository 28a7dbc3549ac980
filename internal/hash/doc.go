// Package hash provides the CRC32-Castagnoli (CRC32C) checksum used for
// object integrity on bundle uploads.
//
// S3 and S3-compatible stores verify uploads against a client-supplied
// CRC32C value per part, so the uploader checksums each part before it
// leaves the process. Bundle files themselves carry their own CRC32-IEEE
// trailer; this package is only about transport integrity.
//
//	sum := hash.CRC32C(part)
package hash
