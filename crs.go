package sedonadb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// CRS describes the coordinate reference system of a geometry column.
// A nil *CRS means the column has no CRS.
type CRS struct {
	authority string
	code      string
	name      string
	json      string
	unknown   bool
}

// UnknownCRS is used when CRS metadata is present but cannot be interpreted.
var UnknownCRS = &CRS{json: `"unknown"`, unknown: true}

// CRSInfo is the result of ParseCRSMetadata. Zero values mean "not available".
type CRSInfo struct {
	AuthorityCode string `json:"authority_code,omitempty"`
	SRID          int    `json:"srid,omitempty"`
	Name          string `json:"name,omitempty"`
	ProjString    string `json:"proj,omitempty"`
}

// IsUnknown reports whether c is the UnknownCRS sentinel.
func (c *CRS) IsUnknown() bool {
	return c != nil && c.unknown
}

// AuthorityCode returns "AUTHORITY:CODE", e.g. "EPSG:4326".
func (c *CRS) AuthorityCode() (string, bool) {
	if c == nil || c.authority == "" {
		return "", false
	}
	return c.authority + ":" + c.code, true
}

// SRID returns the numeric EPSG code. OGC:CRS84 maps to 4326.
func (c *CRS) SRID() (int, bool) {
	if c == nil {
		return 0, false
	}
	switch {
	case c.authority == "OGC" && c.code == "CRS84":
		return 4326, true
	case c.authority == "EPSG":
		srid, err := strconv.Atoi(c.code)
		if err != nil {
			return 0, false
		}
		return srid, true
	}
	return 0, false
}

// Name returns the human-readable CRS name if one is known.
func (c *CRS) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// JSON returns the serializable JSON form: a JSON string or a PROJJSON object.
func (c *CRS) JSON() string {
	if c == nil {
		return "null"
	}
	return c.json
}

// CRSString returns the most compact identifier: the authority code when known,
// the JSON form otherwise.
func (c *CRS) CRSString() string {
	if code, ok := c.AuthorityCode(); ok {
		return code
	}
	return c.JSON()
}

func (c *CRS) String() string {
	switch {
	case c == nil:
		return "none"
	case c.unknown:
		return "unknown"
	}
	if code, ok := c.AuthorityCode(); ok {
		return code
	}
	if c.name != "" {
		return c.name
	}
	return c.json
}

// Equal compares two CRS. Descriptors with authority codes compare by code,
// others by their JSON form.
func (c *CRS) Equal(other *CRS) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.unknown || other.unknown {
		return c.unknown == other.unknown
	}
	a, okA := c.AuthorityCode()
	b, okB := other.AuthorityCode()
	if okA && okB {
		return strings.EqualFold(a, b)
	}
	if okA != okB {
		return false
	}
	return c.json == other.json
}

func (c *CRS) info() *CRSInfo {
	info := &CRSInfo{Name: c.Name(), ProjString: c.CRSString()}
	info.AuthorityCode, _ = c.AuthorityCode()
	info.SRID, _ = c.SRID()
	return info
}

// CRSEngine resolves raw CRS descriptors.
type CRSEngine interface {
	// Resolve parses a JSON CRS descriptor. JSON null resolves to nil.
	Resolve(raw json.RawMessage) (*CRS, error)
}

var wellKnownCRSNames = map[string]string{
	"EPSG:4326":  "WGS 84",
	"OGC:CRS84":  "WGS 84 (CRS84)",
	"EPSG:3857":  "WGS 84 / Pseudo-Mercator",
	"EPSG:4269":  "NAD83",
	"EPSG:4258":  "ETRS89",
	"EPSG:2056":  "CH1903+ / LV95",
	"EPSG:27700": "OSGB36 / British National Grid",
}

var (
	authorityCodePattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]*):{1,2}([A-Za-z0-9_.]+)$`)
	urnPattern           = regexp.MustCompile(`^urn:ogc:def:crs:([A-Za-z]+):[^:]*:([A-Za-z0-9_.]+)$`)
	opengisPattern       = regexp.MustCompile(`^https?://www\.opengis\.net/def/crs/([A-Za-z]+)/[^/]+/([A-Za-z0-9_.]+)$`)
)

type builtinCRSEngine struct {
	definitions map[string]json.RawMessage
}

// NewCRSEngine returns the built-in resolver. It understands "EPSG:n", "OGC:CRS84",
// "srid:n", OGC URNs and URLs, bare integers, and PROJJSON objects with an id.
// definitions maps "AUTHORITY:CODE" to PROJJSON and may be nil.
func NewCRSEngine(definitions map[string]json.RawMessage) CRSEngine {
	defs := make(map[string]json.RawMessage, len(definitions))
	for k, v := range definitions {
		defs[strings.ToUpper(k)] = v
	}
	return &builtinCRSEngine{definitions: defs}
}

// LoadCRSDefinitions reads a JSON object mapping "AUTHORITY:CODE" to PROJJSON definitions.
func LoadCRSDefinitions(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, getError(ErrInvalidConfig, err)
	}
	var defs map[string]json.RawMessage
	if err = json.Unmarshal(data, &defs); err != nil {
		return nil, getError(ErrInvalidConfig, fmt.Errorf("crs definitions %s: %w", path, err))
	}
	return defs, nil
}

func (e *builtinCRSEngine) Resolve(raw json.RawMessage) (*CRS, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return e.resolveString(s)
	case '{':
		return e.resolveProjJSON(raw)
	}
	var srid int64
	if err := json.Unmarshal(raw, &srid); err == nil {
		return e.fromAuthorityCode("EPSG", strconv.FormatInt(srid, 10)), nil
	}
	return nil, fmt.Errorf("unrecognized CRS %s", raw)
}

func (e *builtinCRSEngine) resolveString(s string) (*CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty CRS string")
	}
	if s[0] == '{' {
		return e.resolveProjJSON(json.RawMessage(s))
	}
	if _, err := strconv.Atoi(s); err == nil {
		return e.fromAuthorityCode("EPSG", s), nil
	}
	for _, re := range []*regexp.Regexp{urnPattern, opengisPattern, authorityCodePattern} {
		if m := re.FindStringSubmatch(s); m != nil {
			authority := strings.ToUpper(m[1])
			if authority == "SRID" {
				authority = "EPSG"
			}
			code := strings.ToUpper(m[2])
			if authority == "EPSG" {
				if _, err := strconv.Atoi(code); err != nil {
					return nil, fmt.Errorf("invalid EPSG code %q", m[2])
				}
			}
			return e.fromAuthorityCode(authority, code), nil
		}
	}
	return nil, fmt.Errorf("unrecognized CRS string %q", s)
}

func (e *builtinCRSEngine) fromAuthorityCode(authority string, code string) *CRS {
	key := authority + ":" + code
	crs := &CRS{authority: authority, code: code, name: wellKnownCRSNames[key]}
	if def, ok := e.definitions[key]; ok {
		var buf bytes.Buffer
		if err := json.Compact(&buf, def); err == nil {
			crs.json = buf.String()
			if name := projJSONName(def); name != "" {
				crs.name = name
			}
			return crs
		}
	}
	crs.json = strconv.Quote(key)
	return crs
}

type projJSONID struct {
	Authority string          `json:"authority"`
	Code      json.RawMessage `json:"code"`
}

type projJSON struct {
	Name string      `json:"name"`
	ID   *projJSONID `json:"id"`
}

func projJSONName(raw json.RawMessage) string {
	var p projJSON
	if err := json.Unmarshal(raw, &p); err != nil {
		return ""
	}
	return p.Name
}

func (e *builtinCRSEngine) resolveProjJSON(raw json.RawMessage) (*CRS, error) {
	var p projJSON
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("invalid PROJJSON: %w", err)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("invalid PROJJSON: %w", err)
	}
	if p.Name == "" && (p.ID == nil || p.ID.Authority == "") {
		return nil, errors.New("PROJJSON has neither name nor id")
	}
	crs := &CRS{name: p.Name, json: buf.String()}
	if p.ID != nil && p.ID.Authority != "" {
		code := strings.Trim(string(p.ID.Code), `"`)
		if code != "" {
			crs.authority = strings.ToUpper(p.ID.Authority)
			crs.code = strings.ToUpper(code)
		}
	}
	if crs.name == "" {
		if code, ok := crs.AuthorityCode(); ok {
			crs.name = wellKnownCRSNames[code]
		}
	}
	return crs, nil
}

// crsCache memoizes resolution per distinct descriptor.
type crsCache struct {
	engine CRSEngine
	mu     sync.RWMutex
	cache  map[string]*CRS
}

func newCRSCache(engine CRSEngine) *crsCache {
	return &crsCache{engine: engine, cache: map[string]*CRS{}}
}

func (c *crsCache) resolve(raw json.RawMessage) (*CRS, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	key := buf.String()

	c.mu.RLock()
	crs, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return crs, nil
	}

	crs, err := c.engine.Resolve(raw)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache[key] = crs
	c.mu.Unlock()
	return crs, nil
}

var builtinCRS = newCRSCache(NewCRSEngine(nil))

func builtinCRSResolve(raw json.RawMessage) (*CRS, error) {
	return builtinCRS.resolve(raw)
}

// ResolveCRS resolves a descriptor such as "EPSG:4326" or a PROJJSON object
// with the built-in engine.
func ResolveCRS(descriptor string) (*CRS, error) {
	raw := json.RawMessage(descriptor)
	if !json.Valid(raw) {
		raw = json.RawMessage(strconv.Quote(descriptor))
	}
	crs, err := builtinCRSResolve(raw)
	if err != nil {
		return nil, getError(ErrParse, err)
	}
	return crs, nil
}

// ParseCRSMetadata parses GeoArrow extension metadata ({"crs": ...}). It returns
// nil when the metadata carries no CRS.
func ParseCRSMetadata(metadata string) (*CRSInfo, error) {
	return parseCRSMetadata(builtinCRS, metadata)
}

func parseCRSMetadata(cache *crsCache, metadata string) (*CRSInfo, error) {
	var meta map[string]json.RawMessage
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		return nil, getError(ErrParse, fmt.Errorf("failed to parse metadata JSON: %w", err))
	}
	raw, ok := meta["crs"]
	if !ok {
		return nil, nil
	}
	crs, err := cache.resolve(raw)
	if err != nil {
		return nil, getError(ErrParse, err)
	}
	if crs == nil {
		return nil, nil
	}
	return crs.info(), nil
}
