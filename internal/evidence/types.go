package evidence

// #region tag
// Tag is one opaque evidence tag, normalized to lower-case hex.
type Tag string

// BundleSize is the exact number of tags a bundle carries.
const BundleSize = 10

// DefaultRequired is the reference required-tag registry.
var DefaultRequired = [BundleSize]Tag{
	"a1f3c9b2",
	"4be79d01",
	"9cd4a7e8",
	"2f8c6b44",
	"7e1da2ff",
	"5b93e0c3",
	"d0174aac",
	"6ac2f9d9",
	"c4e61b20",
	"8f09d5ee",
}

// #endregion tag

// #region bundle
// Bundle is a fixed-cardinality set of evidence tags attached to a proposal.
type Bundle struct {
	Tags []Tag `json:"tags" yaml:"tags"`
}

// DefaultBundle returns a bundle holding exactly the reference registry.
func DefaultBundle() Bundle {
	tags := make([]Tag, BundleSize)
	copy(tags, DefaultRequired[:])
	return Bundle{Tags: tags}
}

// #endregion bundle

// #region index
// Indexer answers whether an artifact is indexed for a proposal id.
type Indexer interface {
	Has(id string) bool
}

// Index maps proposal ids to the names of the artifacts covering them.
type Index map[string][]string

// Has reports whether id has at least one indexed artifact.
func (ix Index) Has(id string) bool {
	return len(ix[id]) > 0
}

// Indexes is the on-disk coverage file: unit tests and formal harnesses.
type Indexes struct {
	UnitTests       Index `yaml:"unit_tests"`
	FormalHarnesses Index `yaml:"formal_harnesses"`
}

// #endregion index

// #region report
// Check captures a single coverage check result.
type Check struct {
	Name string `json:"name"`
	Pass bool   `json:"pass"`
}

// Report is the full evidence and coverage outcome for one proposal.
type Report struct {
	ProposalID string  `json:"proposal_id"`
	Passed     bool    `json:"passed"`
	Checks     []Check `json:"checks"`
	Reason     string  `json:"reason"`
}

// #endregion report
