// Package configcenter implements the framework's Config Center (component
// C2): typed get/set/get_cached access to configuration documents, backed
// by an optional remote Store and a local-file fallback under config/.
package configcenter

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"microcore/pkg/apperror"
)

// ContentType is the structured decode format requested from get_cached.
type ContentType string

const (
	ContentText ContentType = "text"
	ContentJSON ContentType = "json"
	ContentYAML ContentType = "yaml"
	ContentXML  ContentType = "xml"
)

// NotExistedPolicy controls what Center does when a remote Store is
// configured but the requested key is missing.
type NotExistedPolicy string

const (
	// NotExistedFail returns NotFound, the Config Center's default.
	NotExistedFail NotExistedPolicy = "fail"
	// NotExistedCreate pushes the local fallback content up to the remote
	// Store so that future reads (from this or any other node) hit it.
	NotExistedCreate NotExistedPolicy = "create"
)

// Store is the remote adapter contract the Config Center layers over when
// one is configured (etcd, a database-backed config service, and so on).
// A nil Store means "local files only".
type Store interface {
	Get(ctx context.Context, dataID, group string, timeout time.Duration) (string, error)
	Set(ctx context.Context, dataID, group, content string, timeout time.Duration) error
}

// Center is the Config Center: get/set/get_cached over a Store with local
// file fallback and an env-tag-aware resolution order.
type Center struct {
	store              Store
	localDir           string
	dataFileMapping    map[string]string
	envTag             string
	ignoreEnvIfMissing bool
	notExisted         NotExistedPolicy

	mu    sync.RWMutex
	cache map[string]any
}

// Option configures a Center.
type Option func(*Center)

// WithStore attaches a remote Store adapter.
func WithStore(s Store) Option {
	return func(c *Center) { c.store = s }
}

// WithDataFileMapping sets the logical data_id -> file name map.
func WithDataFileMapping(m map[string]string) Option {
	return func(c *Center) { c.dataFileMapping = m }
}

// WithEnvTag sets the environment tag tried as a "name-env.ext" prefix
// before falling back to "name.ext".
func WithEnvTag(tag string, ignoreIfMissing bool) Option {
	return func(c *Center) {
		c.envTag = tag
		c.ignoreEnvIfMissing = ignoreIfMissing
	}
}

// WithNotExistedPolicy sets the remote-miss policy.
func WithNotExistedPolicy(p NotExistedPolicy) Option {
	return func(c *Center) { c.notExisted = p }
}

// New creates a Config Center rooted at localDir (typically "config/").
func New(localDir string, opts ...Option) *Center {
	c := &Center{
		localDir:   localDir,
		notExisted: NotExistedFail,
		cache:      make(map[string]any),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the raw content for dataID/group. If a remote Store is
// configured, it is consulted first; on a miss, NotExistedCreate reads the
// local file and pushes its content up to the Store, while NotExistedFail
// returns NotFound. With no Store configured, the local file is
// authoritative.
func (c *Center) Get(ctx context.Context, dataID, group string, timeout time.Duration) (string, error) {
	if c.store != nil {
		content, err := c.store.Get(ctx, dataID, group, timeout)
		if err == nil {
			return content, nil
		}
		if !apperror.Is(err, apperror.CodeNotFound) {
			return "", err
		}
		if c.notExisted != NotExistedCreate {
			return "", apperror.New(apperror.CodeNotFound, fmt.Sprintf("config %s/%s not found remotely", group, dataID))
		}

		local, localErr := c.readLocalFile(dataID)
		if localErr != nil {
			return "", apperror.New(apperror.CodeNotFound, fmt.Sprintf("config %s/%s not found remotely or locally", group, dataID))
		}

		if c.notExisted == NotExistedCreate {
			if setErr := c.store.Set(ctx, dataID, group, local, timeout); setErr != nil {
				return "", apperror.Wrap(setErr, apperror.CodeConfigMissing, "failed to push local config to remote store")
			}
		}
		return local, nil
	}

	local, err := c.readLocalFile(dataID)
	if err != nil {
		return "", apperror.New(apperror.CodeNotFound, fmt.Sprintf("config %s not found locally", dataID))
	}
	return local, nil
}

// Set writes content for dataID/group. With a remote Store configured, it
// writes through to the store; otherwise it writes the local file.
func (c *Center) Set(ctx context.Context, dataID, group, content, contentType string, timeout time.Duration) error {
	if c.store != nil {
		return c.store.Set(ctx, dataID, group, content, timeout)
	}
	path := c.resolveLocalPath(dataID)
	return os.WriteFile(path, []byte(content), 0644)
}

// GetCached returns dataID/group decoded per contentType, caching the
// decoded value. Every call returns a deep copy so that caller mutation
// cannot poison the shared cache.
func (c *Center) GetCached(ctx context.Context, dataID, group string, timeout time.Duration, contentType ContentType) (any, error) {
	cacheKey := group + "/" + dataID

	c.mu.RLock()
	if v, ok := c.cache[cacheKey]; ok {
		c.mu.RUnlock()
		return deepCopy(v), nil
	}
	c.mu.RUnlock()

	raw, err := c.Get(ctx, dataID, group, timeout)
	if err != nil {
		return nil, err
	}

	decoded, err := decode(raw, contentType)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeConfigInvalid, fmt.Sprintf("failed to decode %s as %s", dataID, contentType))
	}

	c.mu.Lock()
	c.cache[cacheKey] = decoded
	c.mu.Unlock()

	return deepCopy(decoded), nil
}

// InvalidateCache drops a cached decoded value so the next GetCached call
// re-reads it from the store/file.
func (c *Center) InvalidateCache(dataID, group string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, group+"/"+dataID)
}

// readLocalFile resolves and reads a local config file for dataID, trying
// the env-tagged name first when an env tag is configured.
func (c *Center) readLocalFile(dataID string) (string, error) {
	path := c.resolveLocalPath(dataID)
	if c.envTag != "" {
		ext := filepath.Ext(path)
		base := strings.TrimSuffix(path, ext)
		tagged := base + "-" + c.envTag + ext
		if data, err := os.ReadFile(tagged); err == nil {
			return string(data), nil
		} else if !c.ignoreEnvIfMissing {
			return "", err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// resolveLocalPath maps a logical data_id to its file path: through
// data_file_mapping if present, else the data_id is the file name itself.
func (c *Center) resolveLocalPath(dataID string) string {
	if fname, ok := c.dataFileMapping[dataID]; ok {
		return filepath.Join(c.localDir, fname)
	}
	return filepath.Join(c.localDir, dataID)
}

// decode converts raw content into a generic structure per contentType.
func decode(raw string, contentType ContentType) (any, error) {
	switch contentType {
	case ContentJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	case ContentYAML:
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	case ContentXML:
		return decodeXML(raw)
	default:
		return raw, nil
	}
}

// xmlNode is a generic XML tree used to decode arbitrary documents into a
// map, dropping the single root element per the spec's xml↔map contract.
type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []xmlNode  `xml:",any"`
}

func decodeXML(raw string) (map[string]any, error) {
	var root xmlNode
	if err := xml.Unmarshal([]byte(raw), &root); err != nil {
		return nil, err
	}
	return xmlNodeToMap(root), nil
}

func xmlNodeToMap(n xmlNode) map[string]any {
	m := make(map[string]any)
	for _, a := range n.Attrs {
		m["@"+a.Name.Local] = a.Value
	}
	if len(n.Children) == 0 {
		if text := strings.TrimSpace(n.Content); text != "" {
			m["#text"] = text
		}
		return m
	}
	for _, child := range n.Children {
		value := xmlNodeToMap(child)
		if existing, ok := m[child.XMLName.Local]; ok {
			switch e := existing.(type) {
			case []any:
				m[child.XMLName.Local] = append(e, value)
			default:
				m[child.XMLName.Local] = []any{e, value}
			}
		} else {
			m[child.XMLName.Local] = value
		}
	}
	return m
}

// deepCopy clones maps/slices/scalars returned from the cache so caller
// mutation can't corrupt subsequent reads.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = deepCopy(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = deepCopy(vv)
		}
		return out
	default:
		return val
	}
}
