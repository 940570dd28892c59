package docfold

import (
	"compress/gzip"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"

	"github.com/docfold/docfold/fault"
	"github.com/docfold/docfold/tools"
)

// fileInfo carries what a stock image handler needs at request time: the
// integrity hash, the content type, and every stored encoding of the file.
type fileInfo struct {
	identityPath string
	hash         string
	contentType  string
	encodings    []encodingInfo
}

type encodingInfo struct {
	encoding, path string
	size           int64
	modtime        time.Time
}

// Extensions the stock image endpoint serves. Anything else in the images
// directory is ignored.
var imageContentTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

// Sidecar compressions recognised next to an identity file.
var sidecarEncodings = map[string]string{
	".gz":  "gzip",
	".zst": "zstd",
	".br":  "br",
}

// addStockImages scans the images tree and registers one route per image,
// plus the listing endpoint and an envelope-shaped 404 fallback. Compressed
// sidecars are verified against the identity file's hash and offered through
// content negotiation.
func (instance *Instance) addStockImages(stats *InstanceStats) error {
	if instance.config.ImagesFS == nil {
		if instance.config.ImagesDir == "" {
			return nil
		}
		instance.config.ImagesFS = os.DirFS(instance.config.ImagesDir)
	}
	fsys := instance.config.ImagesFS
	log := instance.config.Logger.WithGroup("images")

	instance.images = map[string]*fileInfo{}
	if err := fs.WalkDir(fsys, ".", func(path_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return instance.addStockImage(fsys, path_, stats, log)
	}); err != nil {
		return fmt.Errorf("error scanning stock images: %w", err)
	}

	instance.router.HandleFunc("GET /images", instance.handleImageList)
	instance.router.HandleFunc("GET /images/{path...}", func(w http.ResponseWriter, r *http.Request) {
		writeFault(w, r, fault.Newf(fault.ImageNotFound, "no stock image %q", r.PathValue("path")).
			WithRecovery("call GET /images for the available image paths"))
	})
	stats.Routes += 2
	return nil
}

func (instance *Instance) addStockImage(fsys fs.FS, path_ string, stats *InstanceStats, log *slog.Logger) error {
	ext := strings.ToLower(filepath.Ext(path_))
	encoding := "identity"
	basepath := path.Clean("/images/" + path_)
	if enc, ok := sidecarEncodings[ext]; ok {
		base := strings.TrimSuffix(path_, filepath.Ext(path_))
		if _, image := imageContentTypes[strings.ToLower(filepath.Ext(base))]; !image {
			log.Debug("ignored compressed file without an image base", slog.String("path", path_))
			return nil
		}
		encoding = enc
		basepath = path.Clean("/images/" + base)
	} else if _, image := imageContentTypes[ext]; !image {
		log.Debug("ignored non-image file", slog.String("path", path_), slog.String("ext", ext))
		return nil
	}

	fsfile, err := fsys.Open(path_)
	if err != nil {
		return fmt.Errorf("failed to open stock image '%s': %w", path_, err)
	}
	defer fsfile.Close()
	stat, err := fsfile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat stock image '%s': %w", path_, err)
	}
	size := stat.Size()

	// Hash the decoded contents so every encoding of a file must agree.
	var reader io.Reader = fsfile
	switch encoding {
	case "gzip":
		reader, err = gzip.NewReader(fsfile)
	case "zstd":
		var dec *zstd.Decoder
		dec, err = zstd.NewReader(fsfile)
		if dec != nil {
			defer dec.Close()
			reader = dec
		}
	case "br":
		reader = brotli.NewReader(fsfile)
	}
	if err != nil {
		return fmt.Errorf("failed to create decompressor for '%s': %w", path_, err)
	}
	hash := sha512.New384()
	if _, err := io.Copy(hash, reader); err != nil {
		return fmt.Errorf("failed to hash stock image '%s': %w", path_, err)
	}
	sri := "sha384-" + base64.URLEncoding.EncodeToString(hash.Sum(nil))

	info, exists := instance.images[basepath]
	if encoding == "identity" {
		// The identity file is always reached first: fs.WalkDir visits
		// files in lexical order and sidecars append an extension.
		info = &fileInfo{
			identityPath: basepath,
			hash:         sri,
			contentType:  imageContentTypes[ext],
			encodings:    []encodingInfo{{encoding: encoding, path: path_, size: size, modtime: stat.ModTime()}},
		}
		instance.images[basepath] = info
		instance.router.HandleFunc("GET "+basepath, stockImageHandler(fsys, info))
		stats.StockImages += 1
		stats.Routes += 1
		log.Debug("added stock image",
			slog.String("path", basepath),
			slog.String("filepath", path_),
			slog.String("contenttype", info.contentType),
			slog.Int64("size", size),
			slog.String("hash", sri))
	} else {
		if !exists {
			return fmt.Errorf("compressed image '%s' has no identity file", path_)
		}
		if info.hash != sri {
			return fmt.Errorf("compressed image contents do not match the original '%s': expected %s, got %s", path_, info.hash, sri)
		}
		info.encodings = append(info.encodings, encodingInfo{encoding: encoding, path: path_, size: size, modtime: stat.ModTime()})
		sort.Slice(info.encodings, func(i, j int) bool { return info.encodings[i].size < info.encodings[j].size })
		stats.StockImageEncodings += 1
		log.Debug("added stock image encoding",
			slog.String("path", basepath),
			slog.String("filepath", path_),
			slog.String("encoding", encoding),
			slog.Int64("size", size))
	}
	return nil
}

func stockImageHandler(fsys fs.FS, info *fileInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := GetLogger(r.Context())

		urlpath := path.Clean(r.URL.Path)
		if urlpath != info.identityPath {
			// should not happen; routes are only added for existing files
			log.LogAttrs(r.Context(), slog.LevelWarn, "tried to serve a file that doesn't exist")
			http.NotFound(w, r)
			return
		}

		// If the request pins a hash, check that it matches. If not, we
		// don't have that version of the file.
		queryhash := r.URL.Query().Get("hash")
		if queryhash != "" && queryhash != info.hash {
			log.LogAttrs(r.Context(), slog.LevelDebug, "request pinned a different hash",
				slog.String("expected", info.hash), slog.String("queryhash", queryhash))
			http.NotFound(w, r)
			return
		}

		encoding, err := negotiateEncoding(r.Header["Accept-Encoding"], info.encodings)
		if err != nil {
			log.LogAttrs(r.Context(), slog.LevelWarn, "error selecting encoding to serve", slog.Any("error", err))
		}
		// an encoding may have been selected even when err is non-nil
		if encoding == nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		file, err := fsys.Open(encoding.path)
		if err != nil {
			log.LogAttrs(r.Context(), slog.LevelWarn, "failed to open stock image",
				slog.Any("error", err), slog.String("encoding.path", encoding.path))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		defer file.Close()

		w.Header().Add("Etag", `"`+info.hash+`"`)
		w.Header().Add("Content-Type", info.contentType)
		w.Header().Add("Content-Encoding", encoding.encoding)
		w.Header().Add("Vary", "Accept-Encoding")
		if queryhash != "" {
			// cache aggressively when the request is disambiguated by a valid hash
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		}
		http.ServeContent(w, r, encoding.path, encoding.modtime, file.(io.ReadSeeker))
	}
}

// negotiateEncoding picks the stored encoding to serve from the client's
// Accept-Encoding q values and the server's size ordering: a clearly (>0.1)
// preferred encoding wins, otherwise the smaller stored file does. Identity
// is the q=0 baseline so absent headers serve the original bytes.
func negotiateEncoding(acceptHeaders []string, encodings []encodingInfo) (*encodingInfo, error) {
	var err error
	if len(encodings) == 0 {
		return nil, fmt.Errorf("impossible condition, fileInfo contains no encodings")
	}
	if len(encodings) == 1 {
		if encodings[0].encoding != "identity" {
			// identity should always be present, but return whatever we got
			err = fmt.Errorf("identity encoding missing")
		}
		return &encodings[0], err
	}

	var maxq float64
	maxqIdx := -1
	for i, e := range encodings {
		if e.encoding == "identity" {
			maxqIdx = i
			break
		}
	}
	if maxqIdx == -1 {
		err = fmt.Errorf("identity encoding missing")
		maxqIdx = len(encodings) - 1
	}

	for _, header := range acceptHeaders {
		for _, requested := range strings.Split(header, ",") {
			requested = strings.TrimSpace(requested)
			if requested == "" {
				continue
			}

			parts := strings.Split(requested, ";")
			name := strings.TrimSpace(parts[0])
			requestedIdx := -1
			for i, e := range encodings {
				if e.encoding == name {
					requestedIdx = i
					break
				}
			}
			if requestedIdx == -1 {
				continue // we don't have that encoding
			}

			q := 1.0
			for _, part := range parts[1:] {
				part = strings.TrimSpace(part)
				if value, found := strings.CutPrefix(part, "q="); found {
					if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
						q = parsed
						break
					}
				}
			}

			// take this encoding when the client clearly prefers it, or on a
			// near-tie when the stored file is smaller (listed earlier)
			if q-maxq > 0.1 || (math.Abs(q-maxq) <= 0.1 && requestedIdx < maxqIdx) {
				maxq = q
				maxqIdx = requestedIdx
			}
		}
	}
	return &encodings[maxqIdx], err
}

// handleImageList reports every stock image with its identity size and
// integrity hash so clients can pin exact content with the hash query
// parameter.
func (instance *Instance) handleImageList(w http.ResponseWriter, r *http.Request) {
	paths := make([]string, 0, len(instance.images))
	for p := range instance.images {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	rows := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		info := instance.images[p]
		var size int64
		for _, e := range info.encodings {
			if e.encoding == "identity" {
				size = e.size
				break
			}
		}
		rows = append(rows, map[string]any{
			"path":         strings.TrimPrefix(p, "/images/"),
			"url":          p,
			"content_type": info.contentType,
			"size":         size,
			"hash":         info.hash,
		})
	}
	writeEnvelope(w, r, tools.Success(map[string]any{"images": rows, "count": len(rows)}))
}
