// Copyright 2025 LogTier Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package offload

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/logtier/logtier/pkg/blobstore"
	"github.com/logtier/logtier/pkg/version"
)

// User-metadata keys attached to every offloaded object. Stores such as S3
// fold metadata keys to lowercase, so lowercase is the canonical spelling.
const (
	MetadataFormatVersionKey   = "ledger-offload-format-version"
	MetadataSoftwareVersionKey = "ledger-offload-software-version"
	MetadataSoftwareGitSHAKey  = "ledger-offload-software-gitsha"
)

// FormatVersion is the only object layout this build reads or writes, as
// recorded in the user metadata of every offloaded object.
const FormatVersion = "1"

// ErrIncompatibleVersion means an object was written with an offload layout
// this build does not understand.
var ErrIncompatibleVersion = errors.New("incompatible offload format version")

// versionedUserMetadata merges the caller-supplied metadata with the version
// markers. Reserved keys always win over caller values.
func versionedUserMetadata(extra map[string]string) map[string]string {
	merged := make(map[string]string, len(extra)+3)
	for key, value := range extra {
		merged[strings.ToLower(key)] = value
	}
	merged[MetadataFormatVersionKey] = FormatVersion
	merged[MetadataSoftwareVersionKey] = version.Version()
	merged[MetadataSoftwareGitSHAKey] = version.GitSHA()
	return merged
}

// checkObjectVersion rejects objects whose recorded format version is absent
// or unsupported. Objects written by a newer layout must not be half-read.
func checkObjectVersion(key string, info blobstore.ObjectInfo) error {
	recorded, ok := info.UserMetadata[MetadataFormatVersionKey]
	if !ok {
		return errors.Wrapf(ErrIncompatibleVersion, "object %s carries no format version", key)
	}
	if recorded != FormatVersion {
		return errors.Wrapf(ErrIncompatibleVersion, "object %s has format version %s, want %s", key, recorded, FormatVersion)
	}
	return nil
}
