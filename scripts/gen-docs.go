//go:build ignore

// gen-docs writes one JSON description per job file struct in apis/v1 to
// docs/schemas/, used to render the job file reference.
package main

import (
	"encoding/json"
	"fmt"
	"go/ast"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/tools/go/packages"
)

type Schema struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Fields      []Field `json:"fields"`
}

type Field struct {
	Name        string   `json:"name"`
	YAMLKey     string   `json:"yamlKey"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Template    bool     `json:"template"`
	Description string   `json:"description"`
	Enum        []string `json:"enum"`
	Minimum     *string  `json:"minimum,omitempty"`
	Maximum     *string  `json:"maximum,omitempty"`
	Ref         *string  `json:"ref"`
	Default     *string  `json:"default"`
}

// Structs to document, mapped to output filenames.
var targetStructs = map[string]string{
	"PackJob":               "pack-job.json",
	"Metadata":              "metadata.json",
	"PackJobSpec":           "pack-job-spec.json",
	"ArchiveSpec":           "archive-spec.json",
	"FilterSpec":            "filter-spec.json",
	"PublishSpec":           "publish-spec.json",
	"FilesystemPublishSpec": "filesystem-publish-spec.json",
	"S3PublishSpec":         "s3-publish-spec.json",
	"S3Credentials":         "s3-credentials.json",
	"StdoutPublishSpec":     "stdout-publish-spec.json",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gen-docs: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	root, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("finding project root: %w", err)
	}

	outputDir := filepath.Join(root, "docs", "schemas")
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	cfg := &packages.Config{
		Mode: packages.NeedSyntax | packages.NeedFiles | packages.NeedName,
		Dir:  root,
	}

	pkgs, err := packages.Load(cfg, "./apis/v1")
	if err != nil {
		return fmt.Errorf("loading package: %w", err)
	}
	if len(pkgs) == 0 {
		return fmt.Errorf("no packages found")
	}
	if packages.PrintErrors(pkgs) > 0 {
		return fmt.Errorf("package has errors")
	}

	typeSpecs := make(map[string]*typeInfo)
	for _, pkg := range pkgs {
		for _, file := range pkg.Syntax {
			collectTypeSpecs(file, typeSpecs)
		}
	}

	// Sorted so the output log is stable.
	names := make([]string, 0, len(targetStructs))
	for name := range targetStructs {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, structName := range names {
		info, ok := typeSpecs[structName]
		if !ok {
			return fmt.Errorf("struct %s not found in apis/v1", structName)
		}

		data, err := json.MarshalIndent(extractSchema(info), "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", structName, err)
		}

		outputPath := filepath.Join(outputDir, targetStructs[structName])
		if err := os.WriteFile(outputPath, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", outputPath, err)
		}

		fmt.Printf("Generated %s\n", outputPath)
	}

	return nil
}

type typeInfo struct {
	name       string
	doc        string
	structType *ast.StructType
}

func collectTypeSpecs(file *ast.File, typeSpecs map[string]*typeInfo) {
	for _, decl := range file.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok || genDecl.Tok != token.TYPE {
			continue
		}

		for _, spec := range genDecl.Specs {
			typeSpec, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}

			structType, ok := typeSpec.Type.(*ast.StructType)
			if !ok {
				continue
			}

			// Get doc comment (prefer GenDecl.Doc for single type, TypeSpec.Doc otherwise)
			var doc string
			if genDecl.Doc != nil && len(genDecl.Specs) == 1 {
				doc = cleanDocComment(genDecl.Doc.Text())
			} else if typeSpec.Doc != nil {
				doc = cleanDocComment(typeSpec.Doc.Text())
			}

			typeSpecs[typeSpec.Name.Name] = &typeInfo{
				name:       typeSpec.Name.Name,
				doc:        doc,
				structType: structType,
			}
		}
	}
}

func extractSchema(info *typeInfo) Schema {
	schema := Schema{
		Name:        info.name,
		Description: info.doc,
		Fields:      []Field{},
	}

	for _, field := range info.structType.Fields.List {
		if len(field.Names) == 0 {
			continue // embedded field
		}

		fieldName := field.Names[0].Name
		if !ast.IsExported(fieldName) {
			continue
		}

		f := Field{
			Name: fieldName,
		}

		// Parse struct tag
		if field.Tag != nil {
			tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
			f.YAMLKey = parseYAMLKey(tag)
			f.Required, f.Enum, f.Minimum, f.Maximum = parseValidateTag(tag)
			f.Template = parseTemplateTag(tag)
		}

		// Parse type
		f.Type, f.Ref = parseFieldType(field.Type)

		// Parse doc comment
		f.Description, f.Default = parseFieldDoc(field)

		schema.Fields = append(schema.Fields, f)
	}

	return schema
}

func parseYAMLKey(tag reflect.StructTag) string {
	yamlTag := tag.Get("yaml")
	if yamlTag == "" {
		return ""
	}
	parts := strings.Split(yamlTag, ",")
	return parts[0]
}

func parseValidateTag(tag reflect.StructTag) (required bool, enum []string, minimum, maximum *string) {
	validateTag := tag.Get("validate")
	if validateTag == "" {
		return false, nil, nil, nil
	}

	for _, part := range strings.Split(validateTag, ",") {
		key, value, _ := strings.Cut(part, "=")
		switch key {
		case "required":
			required = true
		case "oneof":
			enum = strings.Split(value, " ")
		case "min":
			minimum = &value
		case "max":
			maximum = &value
		}
	}
	return required, enum, minimum, maximum
}

func parseTemplateTag(tag reflect.StructTag) bool {
	_, ok := tag.Lookup("template")
	return ok
}

func parseFieldType(expr ast.Expr) (typeName string, ref *string) {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name, nil
	case *ast.StarExpr:
		inner, innerRef := parseFieldType(t.X)
		if innerRef != nil {
			return inner, innerRef
		}
		// Check if it's a pointer to a known struct type
		if ident, ok := t.X.(*ast.Ident); ok {
			if isKnownStruct(ident.Name) {
				return inner, &ident.Name
			}
		}
		return inner, nil
	case *ast.ArrayType:
		inner, _ := parseFieldType(t.Elt)
		return "[]" + inner, nil
	case *ast.MapType:
		key, _ := parseFieldType(t.Key)
		val, _ := parseFieldType(t.Value)
		return fmt.Sprintf("map[%s]%s", key, val), nil
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok {
			return x.Name + "." + t.Sel.Name, nil
		}
		return t.Sel.Name, nil
	case *ast.InterfaceType:
		return "any", nil
	default:
		return "unknown", nil
	}
}

func isKnownStruct(name string) bool {
	_, ok := targetStructs[name]
	return ok
}

// Matches "(default: zip)" and "(default: source directory name)".
var defaultRegex = regexp.MustCompile(`\(default: ([^)]+)\)`)

func parseFieldDoc(field *ast.Field) (description string, defaultVal *string) {
	var docText string

	// Prefer doc comment above field
	if field.Doc != nil {
		docText = field.Doc.Text()
	} else if field.Comment != nil {
		// Fall back to inline comment
		docText = field.Comment.Text()
	}

	if docText == "" {
		return "", nil
	}

	// Clean up the doc comment
	description = cleanDocComment(docText)

	if matches := defaultRegex.FindStringSubmatch(docText); len(matches) == 2 {
		val := strings.TrimSpace(matches[1])
		defaultVal = &val
	}

	return description, defaultVal
}

func cleanDocComment(s string) string {
	// Remove leading/trailing whitespace but preserve newlines
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found")
		}
		dir = parent
	}
}
