package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/kazz187/taskvault/internal/record"
	"github.com/kazz187/taskvault/pkg/cerr"
)

const (
	listChunk        = 64
	maxCreateAttempt = 20
)

// Vault is the filesystem-backed item repository. Each partition is a
// directory under root and a state transition is a single rename between
// two of them.
type Vault struct {
	root string
	now  func() time.Time
}

type Option func(*Vault)

// WithClock overrides the clock used to name new files.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) {
		v.now = now
	}
}

// Open returns a Vault rooted at root. It does not create any directory;
// call Init for that.
func Open(root string, opts ...Option) (*Vault, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault root: %w", err)
	}
	v := &Vault{root: abs, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Init creates every partition directory and the log directory.
func (v *Vault) Init() error {
	for _, p := range All {
		if err := os.MkdirAll(v.dir(p), 0o755); err != nil {
			return fmt.Errorf("failed to create partition %s: %w", p, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(v.root, LogsDir), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func (v *Vault) Root() string {
	return v.root
}

func (v *Vault) LogsDir() string {
	return filepath.Join(v.root, LogsDir)
}

func (v *Vault) dir(p Partition) string {
	return filepath.Join(v.root, string(p))
}

// Path returns the absolute path of ref's file.
func (v *Vault) Path(ref Ref) string {
	return filepath.Join(v.dir(ref.Partition), ref.Name)
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return cerr.Errorf(cerr.InvalidArgument, "invalid item name %q", name)
	}
	return nil
}

// Create validates and renders rec, then publishes it in partition under a
// name derived from its kind, slug and the current time. The content is
// staged in a hidden temp file and hard-linked to its final name, so the
// final name never shows a partial file and an existing file is never
// replaced. On a name collision a finer-grained timestamp is appended.
func (v *Vault) Create(partition Partition, rec *record.Record, slug string) (Ref, error) {
	kind, ok := rec.Kind()
	if !ok {
		return Ref{}, cerr.Errorf(cerr.InvalidArgument, "unknown item kind %q", rec.Header.Value(record.HeaderType))
	}
	spec, _ := record.LookupKind(kind)
	if err := record.Validate(rec); err != nil {
		return Ref{}, cerr.NewError(cerr.InvalidArgument, "invalid record", err)
	}
	data, err := record.Format(rec)
	if err != nil {
		return Ref{}, err
	}

	dir := v.dir(partition)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Ref{}, fmt.Errorf("failed to create partition %s: %w", partition, err)
	}
	tmp, err := writeTemp(dir, data)
	if err != nil {
		return Ref{}, err
	}
	defer os.Remove(tmp)

	now := v.now()
	base := FileName(spec, slug, now)
	name := base
	for attempt := 0; attempt < maxCreateAttempt; attempt++ {
		if attempt > 0 {
			name = Disambiguate(base, now, attempt)
		}
		err := publish(tmp, filepath.Join(dir, name))
		if err == nil {
			return Ref{Partition: partition, Name: name}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return Ref{}, fmt.Errorf("failed to publish %s/%s: %w", partition, name, err)
		}
	}
	return Ref{}, cerr.Errorf(cerr.DestinationCollision, "no free name for %s in %s", base, partition)
}

func writeTemp(dir string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("failed to chmod temp file: %w", err)
	}
	return name, nil
}

// publish gives tmp its final name without ever replacing an existing file.
// A hard link keeps tmp in place for a retry under another name; where
// links are unavailable an exclusive rename is used instead.
func publish(tmp, final string) error {
	err := os.Link(tmp, final)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}
	return renameNoReplace(tmp, final)
}

// List lazily yields the items of partition whose names match pattern, a
// doublestar glob such as "SCHEDULED_daily_briefing_*" or
// "{EMAIL,WHATSAPP}_*". An empty pattern matches every item. The directory
// is read in chunks so a large partition is never loaded at once, and a
// missing partition yields nothing. Hidden and temp files are skipped.
func (v *Vault) List(ctx context.Context, partition Partition, pattern string) iter.Seq2[Ref, error] {
	return func(yield func(Ref, error) bool) {
		if pattern != "" && !doublestar.ValidatePattern(pattern) {
			yield(Ref{}, cerr.Errorf(cerr.InvalidArgument, "invalid pattern %q", pattern))
			return
		}
		d, err := os.Open(v.dir(partition))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			yield(Ref{}, fmt.Errorf("failed to open partition %s: %w", partition, err))
			return
		}
		defer d.Close()

		for {
			if err := ctx.Err(); err != nil {
				yield(Ref{}, err)
				return
			}
			entries, err := d.ReadDir(listChunk)
			for _, e := range entries {
				name := e.Name()
				if e.IsDir() || strings.HasPrefix(name, ".") {
					continue
				}
				if pattern != "" {
					if ok, _ := doublestar.Match(pattern, name); !ok {
						continue
					}
				}
				if !yield(Ref{Partition: partition, Name: name}, nil) {
					return
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Ref{}, fmt.Errorf("failed to read partition %s: %w", partition, err))
				return
			}
		}
	}
}

// Collect drains List into a slice sorted by name.
func (v *Vault) Collect(ctx context.Context, partition Partition, pattern string) ([]Ref, error) {
	var refs []Ref
	for ref, err := range v.List(ctx, partition, pattern) {
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, func(a, b Ref) int { return strings.Compare(a.Name, b.Name) })
	return refs, nil
}

// Count returns the number of items in partition.
func (v *Vault) Count(ctx context.Context, partition Partition) (int, error) {
	n := 0
	for _, err := range v.List(ctx, partition, "") {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// Move transitions ref into another partition under the same name with one
// atomic rename. It fails with NotFound when the file is gone and with
// DestinationCollision when the target name is taken; a collision is never
// resolved here, the caller picks a new name and uses MoveAs.
func (v *Vault) Move(ref Ref, to Partition) (Ref, error) {
	return v.MoveAs(ref, to, ref.Name)
}

// MoveAs is Move with an explicit target name.
func (v *Vault) MoveAs(ref Ref, to Partition, name string) (Ref, error) {
	if err := checkName(ref.Name); err != nil {
		return Ref{}, err
	}
	if err := checkName(name); err != nil {
		return Ref{}, err
	}
	if ref.Partition == to && ref.Name == name {
		return Ref{}, cerr.Errorf(cerr.InvalidArgument, "%s is already in %s", ref.Name, to)
	}
	if err := os.MkdirAll(v.dir(to), 0o755); err != nil {
		return Ref{}, fmt.Errorf("failed to create partition %s: %w", to, err)
	}
	dst := Ref{Partition: to, Name: name}
	err := renameNoReplace(v.Path(ref), v.Path(dst))
	switch {
	case err == nil:
		return dst, nil
	case errors.Is(err, fs.ErrNotExist):
		return Ref{}, cerr.NewError(cerr.NotFound, fmt.Sprintf("%s not found", ref), err)
	case errors.Is(err, fs.ErrExist):
		return Ref{}, cerr.NewError(cerr.DestinationCollision, fmt.Sprintf("%s already exists", dst), err)
	default:
		return Ref{}, fmt.Errorf("failed to move %s to %s: %w", ref, dst, err)
	}
}

// MoveDisambiguated moves ref to partition, retrying under disambiguated
// names while the destination collides.
func (v *Vault) MoveDisambiguated(ref Ref, to Partition) (Ref, error) {
	dst, err := v.Move(ref, to)
	now := v.now()
	for attempt := 1; cerr.IsCode(err, cerr.DestinationCollision) && attempt < maxCreateAttempt; attempt++ {
		dst, err = v.MoveAs(ref, to, Disambiguate(ref.Name, now, attempt))
	}
	return dst, err
}

// Read parses and validates ref's record. A file that vanished since it was
// listed yields NotFound; a malformed record yields ParseError and is left
// where it is.
func (v *Vault) Read(ref Ref) (*record.Record, error) {
	data, err := v.ReadRaw(ref)
	if err != nil {
		return nil, err
	}
	rec, err := record.ParseValid(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return rec, nil
}

// ReadRaw returns the file content of ref without parsing it.
func (v *Vault) ReadRaw(ref Ref) ([]byte, error) {
	if err := checkName(ref.Name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(v.Path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("%s not found", ref), err)
		}
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	return data, nil
}

// Stat reports file metadata for ref. Modification time stands in for the
// item's last mutation.
func (v *Vault) Stat(ref Ref) (fs.FileInfo, error) {
	fi, err := os.Stat(v.Path(ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, cerr.NewError(cerr.NotFound, fmt.Sprintf("%s not found", ref), err)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", ref, err)
	}
	return fi, nil
}

// Locate finds the partition currently holding name.
func (v *Vault) Locate(name string) (Ref, error) {
	if err := checkName(name); err != nil {
		return Ref{}, err
	}
	for _, p := range All {
		ref := Ref{Partition: p, Name: name}
		if _, err := os.Lstat(v.Path(ref)); err == nil {
			return ref, nil
		}
	}
	return Ref{}, cerr.Errorf(cerr.NotFound, "%s not found in any partition", name)
}
