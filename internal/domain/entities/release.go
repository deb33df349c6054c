package entities

// ReleaseMetadata is what the resolver derives from the release listing
type ReleaseMetadata struct {
	Tag            string
	PreviousTag    string
	ComparisonText string
	Prerelease     bool
}

// HasPrevious reports whether an earlier release was found
func (m *ReleaseMetadata) HasPrevious() bool {
	return m.PreviousTag != ""
}
