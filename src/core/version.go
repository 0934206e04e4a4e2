package core

import "github.com/coreos/go-semver/semver"

// RawVersion is the unparsed raw version of wheelhouse.
const RawVersion = "0.4.0"

// WheelhouseVersion is the current version of wheelhouse.
var WheelhouseVersion = *semver.New(RawVersion)
