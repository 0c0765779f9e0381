package workflow

import (
	"sort"
	"strings"

	"github.com/YoshitsuguKoike/odoogen/internal/pkg/modname"
)

// Field keys stored on the REQUIREMENTS step record
const (
	FieldModuleName    = "module_name"
	FieldModuleVersion = "module_version"
	FieldAuthor        = "author"
	FieldLicense       = "license"
	FieldDepends       = "depends"
	FieldOdooVersion   = "odoo_version"
	FieldOdooEdition   = "odoo_edition"
)

// Field keys written by generation steps
const (
	FieldRemoteID    = "remote_id"
	FieldHandle      = "generation_handle"
	FieldDownloadURL = "download_url"
	FieldTestStatus  = "test_status"
	FieldTestsPassed = "tests_passed"
	FieldTestsFailed = "tests_failed"
)

// Requirements is the module context gathered in step 1. It is passed
// structurally to every remote call so the services stay stateless.
type Requirements struct {
	ModuleName    string   `json:"module_name" yaml:"module_name"`
	ModuleVersion string   `json:"module_version" yaml:"module_version"`
	Author        string   `json:"author,omitempty" yaml:"author,omitempty"`
	License       string   `json:"license,omitempty" yaml:"license,omitempty"`
	Depends       []string `json:"depends,omitempty" yaml:"depends,omitempty"`
	OdooVersion   string   `json:"odoo_version" yaml:"odoo_version"`
	OdooEdition   string   `json:"odoo_edition" yaml:"odoo_edition"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// Normalize fills defaults and converts the module name to an Odoo technical name
func (r Requirements) Normalize(defaultOdooVersion, defaultEdition string) Requirements {
	r.ModuleName = modname.Normalize(r.ModuleName)
	r.OdooVersion = strings.TrimSpace(r.OdooVersion)
	if r.OdooVersion == "" {
		r.OdooVersion = defaultOdooVersion
	}
	r.OdooEdition = strings.ToLower(strings.TrimSpace(r.OdooEdition))
	if r.OdooEdition == "" {
		r.OdooEdition = defaultEdition
	}
	r.ModuleVersion = strings.TrimSpace(r.ModuleVersion)
	if r.ModuleVersion == "" && r.OdooVersion != "" {
		r.ModuleVersion = r.OdooVersion + ".1.0.0"
	}
	if r.License == "" {
		r.License = "LGPL-3"
	}
	r.Depends = normalizeDepends(r.Depends)
	return r
}

// Validate checks the fields every remote request depends on
func (r Requirements) Validate() error {
	var missing []string
	if r.ModuleName == "" {
		missing = append(missing, FieldModuleName)
	}
	if r.ModuleVersion == "" {
		missing = append(missing, FieldModuleVersion)
	}
	if r.OdooVersion == "" {
		missing = append(missing, FieldOdooVersion)
	}
	if len(missing) > 0 {
		return ErrInvalidInput.
			WithStep(StepRequirements).
			WithMessage("missing required module fields: " + strings.Join(missing, ", "))
	}
	return nil
}

// Fields converts the requirements into the flat field map of a step record
func (r Requirements) Fields() map[string]string {
	fields := map[string]string{
		FieldModuleName:    r.ModuleName,
		FieldModuleVersion: r.ModuleVersion,
		FieldAuthor:        r.Author,
		FieldLicense:       r.License,
		FieldDepends:       strings.Join(r.Depends, ","),
		FieldOdooVersion:   r.OdooVersion,
		FieldOdooEdition:   r.OdooEdition,
	}
	for k, v := range fields {
		if v == "" {
			delete(fields, k)
		}
	}
	return fields
}

// RequirementsFromRecord rebuilds the requirements from the REQUIREMENTS record
func RequirementsFromRecord(rec *StepRecord) Requirements {
	if rec == nil {
		return Requirements{}
	}
	var depends []string
	if raw := rec.Fields[FieldDepends]; raw != "" {
		depends = normalizeDepends(strings.Split(raw, ","))
	}
	return Requirements{
		ModuleName:    rec.Fields[FieldModuleName],
		ModuleVersion: rec.Fields[FieldModuleVersion],
		Author:        rec.Fields[FieldAuthor],
		License:       rec.Fields[FieldLicense],
		Depends:       depends,
		OdooVersion:   rec.Fields[FieldOdooVersion],
		OdooEdition:   rec.Fields[FieldOdooEdition],
		Description:   rec.Content,
	}
}

func normalizeDepends(depends []string) []string {
	seen := make(map[string]struct{}, len(depends))
	var out []string
	for _, d := range depends {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
