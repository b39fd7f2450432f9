// Package records manages the model record catalog and the artifacts it
// points to: fetching records.json, choosing the latest version of each
// artifact, downloading and verifying attachments, and resolving local
// paths per artifact role.
package records

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/tutu-network/mtran/internal/domain"
	"github.com/tutu-network/mtran/internal/infra/metrics"
	"github.com/tutu-network/mtran/internal/infra/sqlite"
)

// Default remote locations of the record catalog and its attachments.
const (
	DefaultRecordsURL     = "https://firefox.settings.services.mozilla.com/v1/buckets/main-preview/collections/translations-models-v2/records"
	DefaultAttachmentsURL = "https://firefox-settings-attachments.cdn.mozilla.net"
)

// RecordsFile is the catalog's file name inside the config directory.
const RecordsFile = "records.json"

// ProgressFunc receives download progress.
type ProgressFunc func(status string, pct float64)

// Options configures a Manager.
type Options struct {
	ConfigDir       string
	ModelDir        string
	RecordsURL      string
	AttachmentsURL  string
	Offline         bool
	DownloadTimeout time.Duration
	HTTPClient      *http.Client
	Progress        ProgressFunc
	Logger          zerolog.Logger
}

// Manager implements domain.ModelResources on top of the record catalog.
type Manager struct {
	opts Options
	db   *sqlite.DB
	log  zerolog.Logger

	mu      sync.RWMutex
	records []domain.ModelRecord
	pairs   map[domain.PairKey]bool

	pullMu sync.Mutex
	pulls  map[domain.PairKey]*sync.Mutex
}

// NewManager creates a Manager. db may be nil, in which case installed
// files are not tracked.
func NewManager(opts Options, db *sqlite.DB) *Manager {
	if opts.RecordsURL == "" {
		opts.RecordsURL = DefaultRecordsURL
	}
	if opts.AttachmentsURL == "" {
		opts.AttachmentsURL = DefaultAttachmentsURL
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = 30 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Manager{
		opts:  opts,
		db:    db,
		log:   opts.Logger.With().Str("component", "records").Logger(),
		pulls: make(map[domain.PairKey]*sync.Mutex),
	}
}

// ─── Catalog ────────────────────────────────────────────────────────────────

// Init loads the catalog. Online it fetches records.json and stores it in
// the config directory; offline it reads that stored copy.
func (m *Manager) Init(ctx context.Context) error {
	for _, dir := range []string{m.opts.ConfigDir, m.opts.ModelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	path := filepath.Join(m.opts.ConfigDir, RecordsFile)

	if m.opts.Offline {
		m.log.Info().Str("path", path).Msg("offline mode, loading stored records")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("load stored records: %w: %w", domain.ErrOffline, err)
		}
		return m.load(data)
	}

	m.log.Info().Str("url", m.opts.RecordsURL).Msg("fetching model records")
	data, err := m.fetch(ctx, m.opts.RecordsURL)
	if err != nil {
		stored, rerr := os.ReadFile(path)
		if rerr != nil {
			return fmt.Errorf("fetch records: %w", err)
		}
		m.log.Warn().Err(err).Str("path", path).Msg("records fetch failed, using stored copy")
		return m.load(stored)
	}
	if err := m.load(data); err != nil {
		return err
	}
	if err := writeFileAtomic(path, data); err != nil {
		m.log.Warn().Err(err).Msg("could not store records.json")
	}
	return nil
}

func (m *Manager) load(data []byte) error {
	var doc domain.RecordsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse records: %w", err)
	}

	pairs := make(map[domain.PairKey]bool)
	for _, r := range doc.Data {
		pairs[r.Pair()] = true
	}

	m.mu.Lock()
	m.records = doc.Data
	m.pairs = pairs
	m.mu.Unlock()

	if m.db != nil {
		if err := m.db.ReplaceRecords(doc.Data); err != nil {
			m.log.Warn().Err(err).Msg("could not store record snapshot")
		} else {
			_ = m.db.SetNodeInfo("records_loaded_at", time.Now().UTC().Format(time.RFC3339))
		}
	}
	m.log.Debug().Int("records", len(doc.Data)).Int("pairs", len(pairs)).Msg("model records loaded")
	return nil
}

// Loaded reports whether a catalog is available.
func (m *Manager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records != nil
}

func (m *Manager) ensureLoaded(ctx context.Context) error {
	if m.Loaded() {
		return nil
	}
	return m.Init(ctx)
}

// Records returns a copy of the catalog.
func (m *Manager) Records() []domain.ModelRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.ModelRecord(nil), m.records...)
}

// HasDirectPair reports whether the catalog lists any artifact for the
// ordered pair.
func (m *Manager) HasDirectPair(from, to string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pairs[domain.PairKey{From: from, To: to}]
}

// Languages returns every language named by a record, sorted.
func (m *Manager) Languages() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	for pair := range m.pairs {
		seen[pair.From] = true
		seen[pair.To] = true
	}
	langs := make([]string, 0, len(seen))
	for l := range seen {
		langs = append(langs, l)
	}
	sort.Strings(langs)
	return langs
}

// Pairs returns every direct pair, sorted by source then target.
func (m *Manager) Pairs() []domain.LanguagePair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pairs := make([]domain.LanguagePair, 0, len(m.pairs))
	for p := range m.pairs {
		pairs = append(pairs, domain.LanguagePair{From: p.From, To: p.To})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].From != pairs[j].From {
			return pairs[i].From < pairs[j].From
		}
		return pairs[i].To < pairs[j].To
	})
	return pairs
}

func (m *Manager) pairRecords(from, to string) []domain.ModelRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ModelRecord
	for _, r := range m.records {
		if r.SourceLanguage == from && r.TargetLanguage == to {
			out = append(out, r)
		}
	}
	return out
}

// LatestRecords returns the newest record of each file type for a pair.
func (m *Manager) LatestRecords(from, to string) []domain.ModelRecord {
	byType := make(map[string]domain.ModelRecord)
	var order []string
	for _, r := range m.pairRecords(from, to) {
		cur, ok := byType[r.FileType]
		if !ok {
			order = append(order, r.FileType)
			byType[r.FileType] = r
			continue
		}
		if CompareVersions(r.Version, cur.Version) > 0 {
			byType[r.FileType] = r
		}
	}
	out := make([]domain.ModelRecord, 0, len(order))
	for _, ft := range order {
		out = append(out, byType[ft])
	}
	return out
}

// ModelVersion returns the newest model record version for a pair.
func (m *Manager) ModelVersion(from, to string) string {
	for _, r := range m.LatestRecords(from, to) {
		if r.FileType == string(domain.RoleModel) {
			return r.Version
		}
	}
	return ""
}

// ─── Downloads ──────────────────────────────────────────────────────────────

// PairDir returns the directory holding a pair's artifacts.
func (m *Manager) PairDir(from, to string) string {
	return filepath.Join(m.opts.ModelDir, domain.PairKey{From: from, To: to}.Dir())
}

func (m *Manager) pairLock(key domain.PairKey) *sync.Mutex {
	m.pullMu.Lock()
	defer m.pullMu.Unlock()
	mu, ok := m.pulls[key]
	if !ok {
		mu = &sync.Mutex{}
		m.pulls[key] = mu
	}
	return mu
}

// EnsureDownloaded fetches the latest artifacts for a pair that are missing
// locally or fail hash verification, then resolves their paths.
func (m *Manager) EnsureDownloaded(ctx context.Context, from, to string) (domain.ModelFiles, error) {
	if m.opts.Offline {
		return m.Resolve(from, to)
	}
	if err := m.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	latest := m.LatestRecords(from, to)
	if len(latest) == 0 {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, domain.ErrNoDirectPair)
	}

	key := domain.PairKey{From: from, To: to}
	lock := m.pairLock(key)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.opts.DownloadTimeout)
	defer cancel()

	dir := m.PairDir(from, to)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	m.log.Info().Str("pair", key.String()).Int("files", len(latest)).Msg("checking model files")
	for _, rec := range latest {
		if err := m.ensureFile(ctx, dir, rec); err != nil {
			metrics.ModelDownloads.WithLabelValues("error").Inc()
			return nil, err
		}
	}
	return m.Resolve(from, to)
}

func (m *Manager) ensureFile(ctx context.Context, dir string, rec domain.ModelRecord) error {
	name := localName(rec)
	path := filepath.Join(dir, name)
	log := m.log.With().Str("file", name).Str("type", rec.FileType).Logger()

	if upToDate, err := verifyFile(path, rec); err == nil && upToDate {
		log.Debug().Msg("model file up to date")
		metrics.ModelDownloads.WithLabelValues("skipped").Inc()
		return nil
	} else if err == nil {
		log.Info().Msg("model file hash mismatch, updating")
	}

	url := strings.TrimRight(m.opts.AttachmentsURL, "/") + "/" + strings.TrimLeft(rec.Attachment.Location, "/")
	log.Info().Str("url", url).Str("size", humanize.Bytes(uint64(rec.Attachment.Size))).Msg("downloading model file")

	sum, size, err := m.download(ctx, url, path, rec)
	if err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	if rec.DecompressedHash != "" && sum != rec.DecompressedHash {
		os.Remove(path)
		return fmt.Errorf("%s: sha256 %s, want %s: %w", name, sum, rec.DecompressedHash, domain.ErrModelCorrupted)
	}

	metrics.ModelDownloads.WithLabelValues("ok").Inc()
	if m.db != nil {
		if err := m.db.UpsertModelFile(domain.InstalledFile{
			Path:        path,
			From:        rec.SourceLanguage,
			To:          rec.TargetLanguage,
			FileType:    rec.FileType,
			Version:     rec.Version,
			SHA256:      sum,
			SizeBytes:   size,
			InstalledAt: time.Now(),
		}); err != nil {
			log.Warn().Err(err).Msg("could not record installed file")
		}
	}
	log.Info().Str("size", humanize.Bytes(uint64(size))).Msg("model file installed")
	return nil
}

// verifyFile reports whether path exists and matches the record's hash. A
// missing file gives (false, os.ErrNotExist).
func verifyFile(path string, rec domain.ModelRecord) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, err
	}
	if rec.DecompressedHash == "" {
		return true, nil
	}
	sum, err := hashFile(path)
	if err != nil {
		return false, err
	}
	return sum == rec.DecompressedHash, nil
}

// download streams url into path, decompressing .zst attachments, and
// returns the SHA-256 and size of the written file.
func (m *Manager) download(ctx context.Context, url, path string, rec domain.ModelRecord) (string, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "mtran")

	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = rec.Attachment.Size
	}
	var body io.Reader = &progressReader{r: resp.Body, total: total, report: m.opts.Progress}

	if strings.HasSuffix(rec.Attachment.Filename, ".zst") {
		dec, err := zstd.NewReader(body)
		if err != nil {
			return "", 0, fmt.Errorf("zstd: %w", err)
		}
		defer dec.Close()
		body = dec
	}

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return "", 0, err
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return "", 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", 0, err
	}

	metrics.ModelDownloadBytes.Add(float64(n))
	if m.opts.Progress != nil {
		m.opts.Progress("done "+localName(rec), 100)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ─── Resolution ─────────────────────────────────────────────────────────────

// Resolve returns local artifact paths for a pair without network access.
// A shared vocab file serves as both source and target vocabulary.
func (m *Manager) Resolve(from, to string) (domain.ModelFiles, error) {
	if !m.Loaded() {
		return nil, domain.ErrRecordsNotLoaded
	}
	recs := m.pairRecords(from, to)
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, domain.ErrNoDirectPair)
	}

	// Latest versions win; older files on disk fill the gaps.
	dir := m.PairDir(from, to)
	found := make(map[string]string)
	for _, r := range append(m.LatestRecords(from, to), recs...) {
		if _, ok := found[r.FileType]; ok {
			continue
		}
		path := filepath.Join(dir, localName(r))
		if _, err := os.Stat(path); err == nil {
			found[r.FileType] = path
		}
	}

	files := domain.ModelFiles{}
	for _, role := range []domain.ArtifactRole{domain.RoleModel, domain.RoleLex} {
		path, ok := found[string(role)]
		if !ok {
			return nil, missing(role, from, to)
		}
		files[role] = path
	}
	if vocab, ok := found[domain.FileTypeVocab]; ok {
		files[domain.RoleSrcVocab] = vocab
		files[domain.RoleTrgVocab] = vocab
	} else {
		for _, role := range []domain.ArtifactRole{domain.RoleSrcVocab, domain.RoleTrgVocab} {
			path, ok := found[string(role)]
			if !ok {
				return nil, missing(role, from, to)
			}
			files[role] = path
		}
	}
	if q, ok := found[string(domain.RoleQuality)]; ok {
		files[domain.RoleQuality] = q
	}
	return files, nil
}

func missing(role domain.ArtifactRole, from, to string) error {
	return fmt.Errorf("%s file not found for %s -> %s: %w", role, from, to, domain.ErrArtifactMissing)
}

// Installed lists verified artifacts recorded in the state database.
func (m *Manager) Installed() ([]domain.InstalledFile, error) {
	if m.db == nil {
		return nil, errors.New("no state database")
	}
	return m.db.ListModelFiles()
}

// Remove deletes a pair's artifacts from disk and the state database.
func (m *Manager) Remove(from, to string) error {
	dir := m.PairDir(from, to)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return fmt.Errorf("%s -> %s: %w", from, to, domain.ErrModelNotFound)
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if m.db != nil {
		if _, err := m.db.DeleteModelFiles(from, to); err != nil && !errors.Is(err, domain.ErrModelNotFound) {
			return err
		}
	}
	m.log.Info().Str("pair", from+"-"+to).Msg("model files removed")
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func (m *Manager) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "mtran")
	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// localName is the on-disk name of a record's decompressed artifact.
func localName(rec domain.ModelRecord) string {
	return strings.TrimSuffix(filepath.Base(rec.Attachment.Filename), ".zst")
}

// CompareVersions compares dotted numeric versions. Missing or non-numeric
// components count as zero.
func CompareVersions(a, b string) int {
	pa, pb := strings.Split(a, "."), strings.Split(b, ".")
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		x, y := versionPart(pa, i), versionPart(pb, i)
		switch {
		case x > y:
			return 1
		case x < y:
			return -1
		}
	}
	return 0
}

func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	s := parts[i]
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	v, _ := strconv.Atoi(s[:end])
	return v
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// progressReader reports bytes read against an expected total.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   time.Time
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.report != nil && p.total > 0 && (time.Since(p.last) > 100*time.Millisecond || err == io.EOF) {
		p.last = time.Now()
		pct := float64(p.read) / float64(p.total) * 100
		p.report(fmt.Sprintf("downloading %s / %s", humanize.Bytes(uint64(p.read)), humanize.Bytes(uint64(p.total))), pct)
	}
	return n, err
}
