package project

import (
	"path"
	"strings"

	"github.com/joho/godotenv"

	"github.com/pankaj-dahiya-devops/iacvet/internal/models"
)

func isEnvFile(p string) bool {
	b := path.Base(p)
	return b == ".env" || strings.HasPrefix(b, ".env.") || (strings.HasSuffix(b, ".env") && b != ".env")
}

// scanEnvFiles collects dotenv files with their raw content. A file that
// does not parse is still returned; rules skip it.
func (s *scanner) scanEnvFiles() []models.EnvFile {
	var out []models.EnvFile
	for _, f := range s.tree.files {
		if !isEnvFile(f) {
			continue
		}
		data, err := s.tree.read(f)
		if err != nil {
			s.logger.WithError(err).WithField("file", f).Warn("read env file failed; skipping")
			continue
		}
		if _, err := godotenv.Unmarshal(string(data)); err != nil {
			s.logger.WithError(err).WithField("file", f).Debug("env file is not valid dotenv")
		}
		out = append(out, models.EnvFile{Path: f, Content: string(data)})
	}
	return out
}
