package extractor

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// extToLang maps a recognized file extension to its logical language tag.
// This is a closed mapping: extensions not listed here have no grammar
// binding and always fall back.
var extToLang = map[string]string{
	".go":   "go",
	".py":   "python",
	".java": "java",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
}

// querySource is the concrete-syntax-tree query string for each language,
// tagging nodes as @function or @class captures.
var querySource = map[string]string{
	"go": `
		(function_declaration) @function
		(method_declaration) @function
		(type_declaration) @class
	`,
	"python": `
		(function_definition) @function
		(class_definition) @class
	`,
	"java": `
		(method_declaration) @function
		(constructor_declaration) @function
		(class_declaration) @class
		(interface_declaration) @class
	`,
	"javascript": `
		(function_declaration) @function
		(class_declaration) @class
		(arrow_function) @function
	`,
	"typescript": `
		(function_declaration) @function
		(class_declaration) @class
		(interface_declaration) @class
		(arrow_function) @function
	`,
}

func languageFor(name string) *sitter.Language {
	switch name {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "java":
		return java.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	default:
		return nil
	}
}

// nameTypes are the child node kinds scanned for a captured node's name, in
// priority order handled by matching any (the CST query doesn't express
// priority, so this is a set membership check, not ordered preference).
var nameTypes = map[string]bool{
	"identifier":        true,
	"name":              true,
	"field_identifier":  true,
	"type_identifier":   true,
	"constant":          true,
	"simple_identifier": true,
	"word":              true,
}
