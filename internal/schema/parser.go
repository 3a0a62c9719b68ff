package schema

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"gopkg.in/yaml.v3"

	"github.com/stackclass/backend/internal/types"
)

const extensionWeightStride = 1000

var slugRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type courseYAML struct {
	Slug          string `yaml:"slug"`
	Name          string `yaml:"name"`
	ShortName     string `yaml:"short_name"`
	ReleaseStatus string `yaml:"release_status"`
	Description   string `yaml:"description"`
	Summary       string `yaml:"summary"`
}

type stageYAML struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Difficulty  string `yaml:"difficulty"`
	Description string `yaml:"description"`
}

type extensionYAML struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Parse reads the course definition rooted at commit: course.yml, the
// stages/ directory, and optionally extensions.yml with per-extension
// stage directories under extensions/<slug>/.
func Parse(commit *object.Commit) (*Definition, error) {
	root, err := commit.Tree()
	if err != nil {
		return nil, &ParseError{Path: ".", Reason: "cannot read commit tree", Err: err}
	}

	def, err := parseCourse(root)
	if err != nil {
		return nil, err
	}

	stagesTree, err := root.Tree("stages")
	if err != nil {
		return nil, &ParseError{Path: "stages", Reason: "stages directory not found"}
	}
	def.Stages, err = parseStages(stagesTree, "stages", 0)
	if err != nil {
		return nil, err
	}

	def.Extensions, err = parseExtensions(root)
	if err != nil {
		return nil, err
	}

	return def, validate(def)
}

func parseCourse(root *object.Tree) (*Definition, error) {
	content, err := readFile(root, "course.yml")
	if err != nil {
		return nil, &ParseError{Path: "course.yml", Reason: "not found", Err: err}
	}

	var c courseYAML
	if err := yaml.Unmarshal([]byte(content), &c); err != nil {
		return nil, &ParseError{Path: "course.yml", Reason: "invalid yaml", Err: err}
	}

	status, ok := parseReleaseStatus(c.ReleaseStatus)
	if !ok {
		return nil, &ParseError{Path: "course.yml", Reason: "release_status must be alpha, beta or live"}
	}
	required := []struct{ field, value string }{
		{"slug", c.Slug},
		{"name", c.Name},
		{"short_name", c.ShortName},
		{"description", c.Description},
		{"summary", c.Summary},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, &ParseError{Path: "course.yml", Reason: r.field + " is required"}
		}
	}
	if !slugRe.MatchString(c.Slug) {
		return nil, &ParseError{Path: "course.yml", Reason: "slug must be lowercase letters, digits and hyphens"}
	}

	return &Definition{
		Slug:          c.Slug,
		Name:          c.Name,
		ShortName:     c.ShortName,
		ReleaseStatus: status,
		Description:   c.Description,
		Summary:       c.Summary,
	}, nil
}

// parseStages reads every stage directory under dir in lexicographic
// order, assigning weight = base + index.
func parseStages(dir *object.Tree, dirPath string, base int) ([]StageDef, error) {
	var names []string
	for _, entry := range dir.Entries {
		if entry.Mode == filemode.Dir {
			names = append(names, entry.Name)
		}
	}
	sort.Strings(names)

	stages := make([]StageDef, 0, len(names))
	for i, name := range names {
		sub, err := dir.Tree(name)
		if err != nil {
			return nil, &ParseError{Path: path.Join(dirPath, name), Reason: "cannot read stage directory", Err: err}
		}
		stage, err := parseStage(sub, path.Join(dirPath, name))
		if err != nil {
			return nil, err
		}
		stage.Weight = base + i
		stages = append(stages, *stage)
	}
	return stages, nil
}

func parseStage(dir *object.Tree, dirPath string) (*StageDef, error) {
	metaPath := path.Join(dirPath, "stage.yml")
	content, err := readFile(dir, "stage.yml")
	if err != nil {
		return nil, &ParseError{Path: metaPath, Reason: "not found", Err: err}
	}

	var s stageYAML
	if err := yaml.Unmarshal([]byte(content), &s); err != nil {
		return nil, &ParseError{Path: metaPath, Reason: "invalid yaml", Err: err}
	}
	if s.Slug == "" || s.Name == "" || s.Description == "" {
		return nil, &ParseError{Path: metaPath, Reason: "slug, name and description are required"}
	}
	if !slugRe.MatchString(s.Slug) {
		return nil, &ParseError{Path: metaPath, Reason: "slug must be lowercase letters, digits and hyphens"}
	}
	difficulty, ok := parseDifficulty(s.Difficulty)
	if !ok {
		return nil, &ParseError{Path: metaPath, Reason: "difficulty must be very_easy, easy, medium or hard"}
	}

	instruction, err := readFile(dir, "instruction.md")
	if err != nil {
		return nil, &ParseError{Path: path.Join(dirPath, "instruction.md"), Reason: "not found", Err: err}
	}

	// solution.md is optional
	solution, err := readFile(dir, "solution.md")
	if err != nil {
		solution = ""
	}

	return &StageDef{
		Slug:        s.Slug,
		Name:        s.Name,
		Difficulty:  difficulty,
		Description: s.Description,
		Instruction: instruction,
		Solution:    solution,
	}, nil
}

func parseExtensions(root *object.Tree) ([]ExtensionDef, error) {
	content, err := readFile(root, "extensions.yml")
	if err != nil {
		return nil, nil
	}

	var list []extensionYAML
	if err := yaml.Unmarshal([]byte(content), &list); err != nil {
		return nil, &ParseError{Path: "extensions.yml", Reason: "invalid yaml", Err: err}
	}

	extensions := make([]ExtensionDef, 0, len(list))
	for i, e := range list {
		if e.Slug == "" || e.Name == "" {
			return nil, &ParseError{Path: "extensions.yml", Reason: "extension slug and name are required"}
		}
		if !slugRe.MatchString(e.Slug) {
			return nil, &ParseError{Path: "extensions.yml", Reason: "extension slug must be lowercase letters, digits and hyphens"}
		}

		ext := ExtensionDef{Slug: e.Slug, Name: e.Name, Description: e.Description}

		dirPath := path.Join("extensions", e.Slug)
		if dir, err := root.Tree(dirPath); err == nil {
			ext.Stages, err = parseStages(dir, dirPath, (i+1)*extensionWeightStride)
			if err != nil {
				return nil, err
			}
		}
		extensions = append(extensions, ext)
	}
	return extensions, nil
}

// validate enforces slug uniqueness across base stages, extensions and
// extension stages. Duplicate slugs would make webhook stage resolution
// and progress rows ambiguous.
func validate(def *Definition) error {
	stageSlugs := make(map[string]bool)
	addStage := func(s StageDef, where string) error {
		if stageSlugs[s.Slug] {
			return &ParseError{Path: where, Reason: "duplicate stage slug " + s.Slug}
		}
		stageSlugs[s.Slug] = true
		return nil
	}

	for _, s := range def.Stages {
		if err := addStage(s, "stages"); err != nil {
			return err
		}
	}

	extSlugs := make(map[string]bool)
	for _, ext := range def.Extensions {
		if extSlugs[ext.Slug] {
			return &ParseError{Path: "extensions.yml", Reason: "duplicate extension slug " + ext.Slug}
		}
		extSlugs[ext.Slug] = true
		for _, s := range ext.Stages {
			if err := addStage(s, path.Join("extensions", ext.Slug)); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseReleaseStatus(s string) (types.ReleaseStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(types.ReleaseStatusAlpha):
		return types.ReleaseStatusAlpha, true
	case string(types.ReleaseStatusBeta):
		return types.ReleaseStatusBeta, true
	case string(types.ReleaseStatusLive):
		return types.ReleaseStatusLive, true
	default:
		return "", false
	}
}

func parseDifficulty(s string) (types.Difficulty, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(types.DifficultyVeryEasy):
		return types.DifficultyVeryEasy, true
	case string(types.DifficultyEasy):
		return types.DifficultyEasy, true
	case string(types.DifficultyMedium):
		return types.DifficultyMedium, true
	case string(types.DifficultyHard):
		return types.DifficultyHard, true
	default:
		return "", false
	}
}

func readFile(tree *object.Tree, p string) (string, error) {
	f, err := tree.File(p)
	if err != nil {
		return "", err
	}
	return f.Contents()
}
