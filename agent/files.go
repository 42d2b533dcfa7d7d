package agent

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/julienschmidt/httprouter"
	"golang.org/x/sys/unix"
)

type BrowseEntry struct {
	Name string
	Type string
	Size *int64
}

type BrowseResponse struct {
	Path    string
	Entries []BrowseEntry
}

type UploadResponse struct {
	Message string
	Path    string
	Size    int64
}

type ArtifactInfo struct {
	Name string
	Size int64
}

type ListArtifactsResponse struct {
	Files []ArtifactInfo
}

type DiskUsageResponse struct {
	TotalGB float64
	UsedGB  float64
	FreeGB  float64
}

// browse lists the contents of a directory, defaulting to the workspace dir.
func (a *Agent) browse(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = a.cfg.WorkspaceDir
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "path not found", http.StatusNotFound)
			return
		}
		if os.IsPermission(err) {
			http.Error(w, "permission denied", http.StatusForbidden)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !info.IsDir() {
		http.Error(w, "path is not a directory", http.StatusBadRequest)
		return
	}

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		if os.IsPermission(err) {
			http.Error(w, "permission denied", http.StatusForbidden)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := BrowseResponse{Path: path, Entries: make([]BrowseEntry, 0, len(dirEntries))}
	for _, entry := range dirEntries {
		info, err := entry.Info()
		if err != nil {
			resp.Entries = append(resp.Entries, BrowseEntry{Name: entry.Name(), Type: "unknown"})
			continue
		}
		e := BrowseEntry{Name: entry.Name(), Type: "file"}
		if entry.IsDir() {
			e.Type = "dir"
		} else {
			size := info.Size()
			e.Size = &size
		}
		resp.Entries = append(resp.Entries, e)
	}
	a.writeJSON(w, resp)
}

// upload stores one multipart file under the requested directory, defaulting
// to the workspace dir. The destination is created if needed.
func (a *Agent) upload(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	destDir := r.FormValue("dest_dir")
	if destDir == "" {
		destDir = a.cfg.WorkspaceDir
	}
	if err := os.MkdirAll(destDir, 0777); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	destPath := filepath.Join(destDir, filepath.Base(header.Filename))
	f, err := os.Create(destPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	size, err := io.Copy(f, file)
	if err != nil {
		f.Close()
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := f.Close(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.writeJSON(w, UploadResponse{Message: "file uploaded", Path: destPath, Size: size})
}

// listArtifacts lists the regular files in the artifacts dir. A missing dir
// is an empty listing, not an error.
func (a *Agent) listArtifacts(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	resp := ListArtifactsResponse{Files: []ArtifactInfo{}}
	dirEntries, err := os.ReadDir(a.cfg.ArtifactsDir)
	if err != nil {
		if os.IsNotExist(err) {
			a.writeJSON(w, resp)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, entry := range dirEntries {
		info, err := entry.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		resp.Files = append(resp.Files, ArtifactInfo{Name: entry.Name(), Size: info.Size()})
	}
	a.writeJSON(w, resp)
}

// getArtifact serves one file from the artifacts dir.
func (a *Agent) getArtifact(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	name := params.ByName("filename")

	root := filepath.Clean(a.cfg.ArtifactsDir)
	path := filepath.Join(root, name)
	if !strings.HasPrefix(path, root+string(filepath.Separator)) {
		http.Error(w, "invalid file path", http.StatusForbidden)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "file not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Add("Content-Type", "application/octet-stream")
	w.Header().Add("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	if _, err := io.Copy(w, f); err != nil {
		a.logger.Debugf("error sending file response: %s", err)
	}
}

// diskUsage reports usage of the filesystem backing the workspace dir.
func (a *Agent) diskUsage(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var st unix.Statfs_t
	if err := unix.Statfs(a.cfg.WorkspaceDir, &st); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bavail * bsize
	used := (st.Blocks - st.Bfree) * bsize
	a.writeJSON(w, DiskUsageResponse{
		TotalGB: roundGB(total),
		UsedGB:  roundGB(used),
		FreeGB:  roundGB(free),
	})
}

func roundGB(b uint64) float64 {
	return math.Round(float64(b)/(1<<30)*100) / 100
}
