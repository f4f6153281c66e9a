// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package imagebuilder builds the stage runner image: the build context
// (training scripts, configs) is layered on top of a base image with
// crane and pushed to the project registry, without a local Docker
// daemon.
package imagebuilder

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/compression"
	"github.com/google/go-containerregistry/pkg/crane"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
	"github.com/moby/patternmatcher"
	"github.com/moby/patternmatcher/ignorefile"
	"github.com/sirupsen/logrus"
)

// DefaultIgnorePatterns are always excluded from the build context.
var DefaultIgnorePatterns = []string{
	".git",
	"vendor",
	"bin",
	"node_modules",
	"*.log",
	"tmp/",
	".DS_Store",
	"__pycache__",
}

// BuildRunnerImage layers the contents of contextDir (filtered by
// ignoreMatcher) onto baseImage and pushes the result to the project's
// registry. It returns the pushed image reference.
func BuildRunnerImage(
	project string,
	baseImage string,
	contextDir string,
	platformStr string,
	ignoreMatcher *patternmatcher.PatternMatcher,
) (string, error) {
	platform, err := parsePlatform(platformStr)
	if err != nil {
		return "", err
	}

	tagRandomPrefix := generateRandomString(4)
	tagDatetime := time.Now().Format("2006-01-02-15-04-05")
	imageName := fmt.Sprintf("gcr.io/%s/gketune-runner:%s-%s", project, tagRandomPrefix, tagDatetime)

	logrus.Infof("Starting runner image build for %s", imageName)
	logrus.Infof("Base image: %s", baseImage)
	logrus.Infof("Build context: %s", contextDir)
	logrus.Infof("Target platform: %s/%s", platform.OS, platform.Architecture)

	tempTarballPath, err := createFilteredTar(contextDir, ignoreMatcher)
	if err != nil {
		return "", fmt.Errorf("failed to create filtered tarball: %w", err)
	}
	defer func() {
		if tempTarballPath != "" {
			os.Remove(tempTarballPath)
			logrus.Debugf("Cleaned up temporary tarball file: %s", tempTarballPath)
		}
	}()

	tarLayer, err := tarball.LayerFromOpener(func() (io.ReadCloser, error) {
		file, openErr := os.Open(tempTarballPath)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open temporary tarball %q: %w", tempTarballPath, openErr)
		}
		return file, nil
	}, tarball.WithCompression(compression.GZip))
	if err != nil {
		return "", fmt.Errorf("failed to create layer from tarball: %w", err)
	}

	baseRef, err := name.ParseReference(baseImage)
	if err != nil {
		return "", fmt.Errorf("failed to parse base image reference %q: %w", baseImage, err)
	}

	baseImg, err := crane.Pull(baseRef.String(), crane.WithPlatform(&platform))
	if err != nil {
		return "", fmt.Errorf("failed to pull base image %q: %w", baseImage, err)
	}

	newImg, err := mutate.AppendLayers(baseImg, tarLayer)
	if err != nil {
		return "", fmt.Errorf("failed to append layer: %w", err)
	}

	imageRef, err := name.ParseReference(imageName)
	if err != nil {
		return "", fmt.Errorf("failed to parse new image reference %q: %w", imageName, err)
	}

	logrus.Infof("Uploading runner image to %s", imageName)
	err = crane.Push(newImg, imageRef.String(), crane.WithPlatform(&platform))
	if err != nil {
		return "", fmt.Errorf("failed to push image %q: %w", imageName, err)
	}

	logrus.Infof("Image %s built and uploaded successfully.", imageName)
	return imageName, nil
}

// parsePlatform converts a platform string (e.g., "linux/amd64") into a v1.Platform struct.
func parsePlatform(platformStr string) (v1.Platform, error) {
	parts := strings.Split(platformStr, "/")
	if len(parts) != 2 {
		return v1.Platform{}, fmt.Errorf("invalid platform format: %q, expected \"os/arch\"", platformStr)
	}
	return v1.Platform{
		OS:           parts[0],
		Architecture: parts[1],
	}, nil
}

// generateRandomString generates a random string of specified length.
func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz"
	var seededRand *rand.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[seededRand.Intn(len(charset))]
	}
	return string(b)
}

// ReadDockerignorePatterns builds the ignore matcher for a build
// context, combining defaultPatterns with the context's .dockerignore
// file when present.
func ReadDockerignorePatterns(dir string, defaultPatterns []string) (*patternmatcher.PatternMatcher, error) {
	dockerignorePath := filepath.Join(dir, ".dockerignore")

	patterns := make([]string, len(defaultPatterns))
	copy(patterns, defaultPatterns)

	if _, err := os.Stat(dockerignorePath); err == nil {
		file, err := os.Open(dockerignorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open .dockerignore file %q: %w", dockerignorePath, err)
		}
		defer file.Close()

		filePatterns, err := ignorefile.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read .dockerignore file %q: %w", dockerignorePath, err)
		}
		patterns = append(patterns, filePatterns...)
		logrus.Infof("Found %d patterns in .dockerignore at %q", len(filePatterns), dockerignorePath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat .dockerignore file %q: %w", dockerignorePath, err)
	}

	matcher, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern matcher: %w", err)
	}
	return matcher, nil
}

// processTarEntry processes a single file or directory for tarball creation.
func processTarEntry(tarWriter *tar.Writer, sourceDir string, ignoreMatcher *patternmatcher.PatternMatcher, path string, info fs.FileInfo, errFromWalk error) error {
	if errFromWalk != nil {
		return errFromWalk
	}

	relPath, err := filepath.Rel(sourceDir, path)
	if err != nil {
		return fmt.Errorf("failed to get relative path for %q: %w", path, err)
	}

	if relPath == "." {
		return nil
	}

	// Directory matching needs the trailing slash, per
	// patterns.go in moby/patternmatcher.
	relPathSlash := filepath.ToSlash(relPath)
	if info.IsDir() && !strings.HasSuffix(relPathSlash, "/") {
		relPathSlash += "/"
	}

	ignored, err := ignoreMatcher.MatchesOrParentMatches(relPathSlash)
	if err != nil {
		return fmt.Errorf("failed to check ignore patterns for %q: %w", path, err)
	}

	if ignored {
		if info.IsDir() {
			logrus.Debugf("Ignoring directory %q", relPath)
			return filepath.SkipDir
		}
		logrus.Debugf("Ignoring file %q", relPath)
		return nil
	}

	header, err := tar.FileInfoHeader(info, relPath)
	if err != nil {
		return fmt.Errorf("failed to create tar header for %q: %w", path, err)
	}
	header.Name = relPath

	if err := tarWriter.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %q: %w", path, err)
	}

	if info.Mode().IsRegular() {
		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file %q: %w", path, err)
		}
		defer file.Close()

		if _, err := io.Copy(tarWriter, file); err != nil {
			return fmt.Errorf("failed to write file content for %q: %w", path, err)
		}
	}

	return nil
}

func createFilteredTar(sourceDir string, ignoreMatcher *patternmatcher.PatternMatcher) (string, error) {
	tmpFile, err := os.CreateTemp("", "gketune-build-context-*.tar.gz")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file for tarball: %w", err)
	}
	defer tmpFile.Close()

	gzipWriter := gzip.NewWriter(tmpFile)
	tarWriter := tar.NewWriter(gzipWriter)

	logrus.Infof("Creating filtered tar from %s to temporary file %s", sourceDir, tmpFile.Name())

	var walkErr error
	defer func() {
		// Close tar and gzip writers to flush any buffered data.
		if closeErr := tarWriter.Close(); closeErr != nil && walkErr == nil {
			walkErr = fmt.Errorf("failed to close tar writer: %w", closeErr)
		}
		if closeErr := gzipWriter.Close(); closeErr != nil && walkErr == nil {
			walkErr = fmt.Errorf("failed to close gzip writer: %w", closeErr)
		}
	}()

	walkErr = filepath.Walk(sourceDir, func(path string, info fs.FileInfo, err error) error {
		return processTarEntry(tarWriter, sourceDir, ignoreMatcher, path, info, err)
	})

	if walkErr != nil {
		os.Remove(tmpFile.Name())
		return "", walkErr
	}

	return tmpFile.Name(), nil
}
