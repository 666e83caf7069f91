// Package dataset serves the record fixtures behind the dashboards.
package dataset

import (
	"embed"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enrich-cli/internal/model"
)

//go:embed data/*.json
var embedded embed.FS

const (
	reviewsFile = "product_reviews.json"
	newsFile    = "market_news.json"
)

// Loader reads fixtures from a directory, falling back to the embedded copies
// for any file the directory does not contain.
type Loader struct {
	dir string
}

// NewLoader creates a Loader. An empty dir serves only the embedded fixtures.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// ProductReviews returns the review fixtures.
func (l *Loader) ProductReviews() ([]model.ProductReview, error) {
	var out []model.ProductReview
	if err := l.load(reviewsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarketNews returns the news fixtures.
func (l *Loader) MarketNews() ([]model.MarketNews, error) {
	var out []model.MarketNews
	if err := l.load(newsFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) load(name string, v any) error {
	data, err := l.read(name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return eris.Wrapf(err, "dataset: unmarshal %s", name)
	}
	return nil
}

func (l *Loader) read(name string) ([]byte, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, eris.Wrapf(err, "dataset: read %s", name)
		}
	}
	data, err := embedded.ReadFile("data/" + name)
	return data, eris.Wrapf(err, "dataset: read embedded %s", name)
}
