package installer

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"k8s.io/klog/v2"
)

// PackageDirectory 把插件目录打包成 zip，返回临时 zip 文件路径。
// AstrBot 要求 zip 顶层保留插件目录（plugin_name/main.py 等），
// 因此所有条目都挂在 pluginName/ 之下，并显式写入顶层目录项。
func PackageDirectory(dir, pluginName string) (string, error) {
	tmp, err := os.CreateTemp("", "plugin_*.zip")
	if err != nil {
		return "", err
	}
	zipPath := tmp.Name()

	zw := zip.NewWriter(tmp)
	ok := false
	defer func() {
		if !ok {
			zw.Close()
			tmp.Close()
			os.Remove(zipPath)
		}
	}()

	if _, err := zw.Create(pluginName + "/"); err != nil {
		return "", err
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := pluginName + "/" + filepath.ToSlash(rel)
		if info.IsDir() {
			_, err := zw.Create(name + "/")
			return err
		}
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if walkErr != nil {
		return "", fmt.Errorf("打包插件目录失败: %w", walkErr)
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	ok = true
	klog.V(6).Infof("插件打包成功: %s (顶层目录 %s/)", zipPath, pluginName)
	return zipPath, nil
}

// ArchiveEntries 列出 zip 包内的条目名，用于排查打包结构问题。
func ArchiveEntries(zipPath string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names, nil
}

// topLevelName 返回 zip 内顶层目录名，不规范的包返回空串。
func topLevelName(entries []string) string {
	for _, e := range entries {
		if i := strings.Index(e, "/"); i > 0 {
			return e[:i]
		}
	}
	return ""
}
