// Copyright 2024 The zbdba Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const LogFileName = "ib_logfile0"

// Cfg carries the few my.cnf settings the tool cares about. Explicit
// command line flags always win; the defaults file only fills gaps.
type Cfg struct {
	Raw *ini.File

	DataDir            string
	InnodbDataFilePath string
	InnodbUndoDir      string
	InnodbLogGroupDir  string
}

// LoadDefaultsFile reads a my.cnf style file. Keys may be spelled with
// either dashes or underscores, like mysqld accepts them.
func LoadDefaultsFile(path string) (*Cfg, error) {
	f, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys: true,
		Loose:            false,
	}, path)
	if err != nil {
		return nil, errors.Wrapf(err, "LoadDefaultsFile: %s", path)
	}

	c := &Cfg{Raw: f}
	sec := f.Section("mysqld")

	c.DataDir = lookup(sec, "datadir")
	c.InnodbDataFilePath = lookup(sec, "innodb_data_file_path")
	c.InnodbUndoDir = lookup(sec, "innodb_undo_directory")
	c.InnodbLogGroupDir = lookup(sec, "innodb_log_group_home_dir")

	if c.InnodbUndoDir == "" {
		c.InnodbUndoDir = c.DataDir
	}
	if c.InnodbLogGroupDir == "" {
		c.InnodbLogGroupDir = c.DataDir
	}
	return c, nil
}

func lookup(sec *ini.Section, name string) string {
	if sec.HasKey(name) {
		return sec.Key(name).String()
	}
	dashed := strings.ReplaceAll(name, "_", "-")
	if sec.HasKey(dashed) {
		return sec.Key(dashed).String()
	}
	return ""
}

// SystemDataFile resolves the first file of innodb_data_file_path
// (the "ibdata1:12M:autoextend" syntax) against datadir.
func (c *Cfg) SystemDataFile() string {
	spec := c.InnodbDataFilePath
	if spec == "" {
		spec = "ibdata1"
	}
	name := strings.Split(strings.Split(spec, ";")[0], ":")[0]
	if c.DataDir == "" {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

// RedoLogFile resolves the redo log path.
func (c *Cfg) RedoLogFile() string {
	if c.InnodbLogGroupDir == "" {
		return LogFileName
	}
	return filepath.Join(c.InnodbLogGroupDir, LogFileName)
}

// UndoDir resolves the undo tablespace directory.
func (c *Cfg) UndoDir() string {
	return c.InnodbUndoDir
}
