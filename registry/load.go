package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/schemabind/schemabind/schemadoc"
	"github.com/schemabind/schemabind/uriindex"
)

// LoadError reports a document that could not be loaded: unparseable
// content or a missing top level id. The registry is left untouched by the
// failing call.
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

var errMissingID = errors.New("schema document has no id")

type staged struct {
	id  schemadoc.ID
	doc schemadoc.Document
}

// LoadDocument registers an already-parsed schema document. The document
// is copied, so the caller keeps ownership of its map.
func (r *Registry) LoadDocument(doc schemadoc.Document) (schemadoc.ID, error) {
	s, err := stageDocument("document", schemadoc.DeepCopy(doc))
	if err != nil {
		return "", err
	}
	r.commit([]staged{s})
	return s.id, nil
}

// LoadBytes parses and registers a single schema document.
func (r *Registry) LoadBytes(data []byte) (schemadoc.ID, error) {
	doc, err := schemadoc.Parse(data)
	if err != nil {
		return "", &LoadError{Source: "bytes", Err: err}
	}
	return r.LoadDocument(doc)
}

// Load reads one or more files. Plain files hold a single JSON schema;
// tar and gzipped tar archives are expanded, every regular entry a schema.
// The whole call is staged first: one malformed document and nothing is
// committed.
func (r *Registry) Load(paths ...string) ([]schemadoc.ID, error) {
	var all []staged
	for _, path := range paths {
		batch, err := stageFile(path, nil)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
	}
	return r.commit(all), nil
}

// LoadArchive reads a bulk container (tar, optionally gzipped). filter, if
// non-nil, selects entries by name; unselected entries are skipped without
// parsing. All-or-nothing: a malformed selected entry fails the call and
// commits nothing.
func (r *Registry) LoadArchive(path string, filter func(name string) bool) ([]schemadoc.ID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	data, err = maybeGunzip(path, data)
	if err != nil {
		return nil, err
	}
	if !isTar(data) {
		return nil, &LoadError{Source: path, Err: errors.New("not a tar archive")}
	}
	batch, err := stageTar(path, data, filter)
	if err != nil {
		return nil, err
	}
	return r.commit(batch), nil
}

// commit writes a staged batch to the index under the exclusive load lock.
func (r *Registry) commit(batch []staged) []schemadoc.ID {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	ids := make([]schemadoc.ID, len(batch))
	for i, s := range batch {
		r.index.Put(s.id, s.doc)
		ids[i] = s.id
	}
	return ids
}

func stageDocument(source string, doc schemadoc.Document) (staged, error) {
	declared, ok := doc.DeclaredID()
	if !ok {
		return staged{}, &LoadError{Source: source, Err: errMissingID}
	}
	id, err := uriindex.Normalize(declared, "")
	if err != nil {
		return staged{}, &LoadError{Source: source, Err: err}
	}
	return staged{id: id, doc: doc}, nil
}

func stageBytes(source string, data []byte) (staged, error) {
	doc, err := schemadoc.Parse(data)
	if err != nil {
		return staged{}, &LoadError{Source: source, Err: err}
	}
	return stageDocument(source, doc)
}

func stageFile(path string, filter func(string) bool) ([]staged, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	data, err = maybeGunzip(path, data)
	if err != nil {
		return nil, err
	}
	if isTar(data) {
		return stageTar(path, data, filter)
	}
	s, err := stageBytes(path, data)
	if err != nil {
		return nil, err
	}
	return []staged{s}, nil
}

func stageTar(path string, data []byte, filter func(string) bool) ([]staged, error) {
	var batch []staged
	tr := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &LoadError{Source: path, Err: err}
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if filter != nil && !filter(hdr.Name) {
			continue
		}
		entry, err := io.ReadAll(tr)
		if err != nil {
			return nil, &LoadError{Source: path + ":" + hdr.Name, Err: err}
		}
		s, err := stageBytes(path+":"+hdr.Name, entry)
		if err != nil {
			return nil, err
		}
		batch = append(batch, s)
	}
	return batch, nil
}

func maybeGunzip(path string, data []byte) ([]byte, error) {
	if !isGzip(data) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, &LoadError{Source: path, Err: err}
	}
	return out, nil
}

func isGzip(data []byte) bool {
	return len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b
}

func isTar(data []byte) bool {
	// "ustar" magic at offset 257
	return len(data) > 262 && bytes.Equal(data[257:262], []byte("ustar"))
}
