package entities

// Pipeline is the release pipeline definition loaded from kiln.yml
type Pipeline struct {
	Name      string
	Workspace string
	Trigger   TriggerConfig
	Source    SourceConfig
	Cache     CacheConfig
	Build     BuildConfig
	Package   PackageConfig
	Release   ReleaseConfig
}

// TriggerConfig lists the tag filters that activate the pipeline
type TriggerConfig struct {
	Tags []string
}

// SourceConfig describes how the source tree is fetched
type SourceConfig struct {
	URL   string
	Dir   string // checkout directory relative to the workspace
	Depth int
	Skip  bool // source already checked out by the host
}

// CacheConfig describes the build cache hints
type CacheConfig struct {
	Enabled     bool
	Key         string
	StoreDir    string
	Path        string // directory to snapshot, relative to the source dir
	Compression string // "zstd" or "lz4"
	// RemovePaths are dropped from the restored tree before building,
	// relative to the source dir.
	// Typically a symlink inherited from another OS that crashes the build tool.
	RemovePaths        []string
	PurgeMaxAgeMinutes int
}

// BuildConfig describes the build tool invocation
type BuildConfig struct {
	Tool           string
	Args           []string
	Env            map[string]string
	ConfigTemplate string // copied verbatim over ConfigFile, relative to the workspace
	ConfigFile     string // relative to the workspace
	OutputDir      string // produced by the build, relative to the source dir
	TimeoutMinutes int
}

// PackageConfig describes the archive and digest produced for a release
type PackageConfig struct {
	Name     string // archive base name, "{tag}" is replaced
	InputDir string // relocated output directory, relative to the workspace
	Codec    string
	Level    int
	Digest   string
	Sign     bool
}

// ReleaseConfig describes where and how the release is published
type ReleaseConfig struct {
	Owner              string
	Repo               string
	APIURL             string
	CompareURL         string // "{owner}", "{repo}", "{previous}", "{current}"
	InstallURL         string
	PrereleaseKeywords []string
	Draft              bool
	UploadConcurrency  int
}

// Slug returns "owner/repo"
func (r ReleaseConfig) Slug() string {
	return r.Owner + "/" + r.Repo
}
