package v1

// KindPackJob is the only job kind understood by this API version.
const KindPackJob = "PackJob"

type PackJob struct {
	Kind     string      `yaml:"kind" json:"kind" validate:"required,eq=PackJob"`
	Metadata Metadata    `yaml:"metadata" json:"metadata"`
	Spec     PackJobSpec `yaml:"spec" json:"spec"`
}

type Metadata struct {
	Name string `yaml:"name" json:"name" validate:"required"`
}

type PackJobSpec struct {
	// Source is the directory to package. Relative paths resolve against the
	// directory of the job file.
	Source string `yaml:"source" json:"source" validate:"required" template:""`

	// Workdir receives the archive. Created when missing.
	Workdir string `yaml:"workdir" json:"workdir" validate:"required" template:""`

	Archive *ArchiveSpec `yaml:"archive,omitempty" json:"archive,omitempty"`
	Filter  *FilterSpec  `yaml:"filter,omitempty" json:"filter,omitempty"`

	// Publish lists where the finished archive is copied. Optional.
	Publish []PublishSpec `yaml:"publish,omitempty" json:"publish,omitempty" validate:"dive"`
}

// ArchiveSpec configures the produced archive. Every field is optional.
type ArchiveSpec struct {
	// Name is the archive file name without extension (default: source directory name).
	Name string `yaml:"name,omitempty" json:"name,omitempty" validate:"omitempty,excludesall=/\\" template:""`

	// Format is one of zip, tar.gz or tar.zst (default: zip).
	Format string `yaml:"format,omitempty" json:"format,omitempty" validate:"omitempty,oneof=zip tar.gz tar.zst"`

	// Level is the compression level (default: 6).
	Level *int `yaml:"level,omitempty" json:"level,omitempty" validate:"omitempty,min=-1,max=22"`

	// Symlinks is one of follow, preserve or skip (default: follow).
	Symlinks string `yaml:"symlinks,omitempty" json:"symlinks,omitempty" validate:"omitempty,oneof=follow preserve skip"`

	// PreserveExecutable stores 0755 for files with an execute bit instead of 0644.
	PreserveExecutable bool `yaml:"preserve_executable,omitempty" json:"preserve_executable,omitempty"`
}

// FilterSpec selects files to leave out of the archive.
type FilterSpec struct {
	// Exclude is a CEL expression over path, size, executable and symlink.
	// Files for which it returns true are excluded.
	Exclude string `yaml:"exclude" json:"exclude" validate:"required"`
}

// PublishSpec configures one destination (exactly one field should be set).
type PublishSpec struct {
	Filesystem *FilesystemPublishSpec `yaml:"filesystem,omitempty" json:"filesystem,omitempty" validate:"required_without_all=S3 Stdout,excluded_with=S3 Stdout"`
	S3         *S3PublishSpec         `yaml:"s3,omitempty" json:"s3,omitempty" validate:"required_without_all=Filesystem Stdout,excluded_with=Filesystem Stdout"`
	Stdout     *StdoutPublishSpec     `yaml:"stdout,omitempty" json:"stdout,omitempty" validate:"required_without_all=Filesystem S3,excluded_with=Filesystem S3"`
}

type FilesystemPublishSpec struct {
	// Path is the destination directory. Relative paths resolve against the
	// directory of the job file.
	Path string `yaml:"path" json:"path" validate:"required" template:""`
}

type S3PublishSpec struct {
	Bucket         string         `yaml:"bucket" json:"bucket" validate:"required" template:""`
	Prefix         *string        `yaml:"prefix,omitempty" json:"prefix,omitempty" template:""`
	Region         *string        `yaml:"region,omitempty" json:"region,omitempty" template:""`
	Endpoint       *string        `yaml:"endpoint,omitempty" json:"endpoint,omitempty" template:""`
	ForcePathStyle bool           `yaml:"force_path_style,omitempty" json:"force_path_style,omitempty"`
	Credentials    *S3Credentials `yaml:"credentials,omitempty" json:"credentials,omitempty"`
}

type S3Credentials struct {
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id" validate:"required" template:""`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key" validate:"required" template:""`
}

// StdoutPublishSpec writes the archive bytes to stdout (no options currently).
type StdoutPublishSpec struct{}
