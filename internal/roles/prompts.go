package roles

import (
	"fmt"
	"strings"

	"github.com/sanvibhowmick/forge/internal/domain"
)

const (
	designSystem = "You are a senior system architect. You design modular repository structures that are easy to test."

	testAuthorSystem = "You are a QA automation engineer. You write pytest suites from specifications alone and never see the implementation."

	builderSystem = "You are an expert Python engineer who builds resilient multi-file systems. You reply with source code only."

	selectionSystem = "You are a security auditor with a small budget. You reply with file paths only."

	auditSystem = "You are an adversarial auditor. Your goal is to find inputs that break the code."

	noContext = "No existing files. Starting a new repository."

	initialFeedback = "Initial build phase."
)

func designPrompt(requirement, repoContext string) string {
	if strings.TrimSpace(repoContext) == "" {
		repoContext = noContext
	}
	var b strings.Builder
	b.WriteString("You are planning a new multi-file Python project.\n\n")
	b.WriteString("EXISTING REPOSITORY CONTEXT:\n")
	b.WriteString(repoContext)
	b.WriteString("\n\nNEW PROJECT REQUIREMENT:\n")
	b.WriteString(requirement)
	b.WriteString("\n\nProduce the technical specification:\n")
	b.WriteString("1. file_structure: every file the project needs (src/..., tests/..., README.md), in the order they should be written.\n")
	b.WriteString("2. functions: the core logic functions with signatures and behavior.\n")
	b.WriteString("3. setup_commands: shell commands that install what the project needs, e.g. pip install requests.\n")
	b.WriteString("4. Stay compatible with any existing files shown in the context.\n")
	return b.String()
}

func testAuthorPrompt(specJSON string) string {
	var b strings.Builder
	b.WriteString("Write a complete pytest suite for the project described below. You cannot see the implementation.\n\n")
	b.WriteString("TECHNICAL SPECIFICATION:\n")
	b.WriteString(specJSON)
	b.WriteString("\n\nRules:\n")
	fmt.Fprintf(&b, "1. Put every test file under %s/ and give each file a distinct path.\n", TestsDir)
	b.WriteString("2. Cover each core component thoroughly, including error paths.\n")
	b.WriteString("3. Import through the planned layout, e.g. from src.auth import login.\n")
	b.WriteString("4. Mock any external service or database the specification mentions.\n")
	return b.String()
}

func builderPrompt(spec *domain.Specification, task domain.FileTask, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PROJECT: %s\n", spec.ProjectName)
	b.WriteString("PLANNED FILES:\n")
	for _, ft := range spec.FileStructure {
		fmt.Fprintf(&b, "- %s: %s\n", ft.Path, ft.Description)
	}
	fmt.Fprintf(&b, "\nFILE TO WRITE: %s\n", task.Path)
	fmt.Fprintf(&b, "FILE DESCRIPTION: %s\n", task.Description)
	b.WriteString("\nCURRENT FEEDBACK/ERRORS:\n")
	b.WriteString(feedback)
	b.WriteString("\n\nWrite the complete content of this one file so that it integrates with the rest of the project. ")
	b.WriteString("If the feedback shows failing auditor tests, change this file so those edge cases are handled.\n")
	b.WriteString("Output only the raw file content.")
	return b.String()
}

func selectionPrompt(spec *domain.Specification) string {
	return fmt.Sprintf(
		"Pick the %d files from this project that matter most to its logic or security.\n\n"+
			"PROJECT: %s\nFILE LIST: %s\n\n"+
			"Return only a comma-separated list of paths.",
		MaxAuditTargets, spec.ProjectName, strings.Join(spec.Paths(), ", "))
}

func auditPrompt(targets []string) string {
	var b strings.Builder
	b.WriteString("The implementation below passes its current tests. Find subtle logic holes or security flaws.\n\n")
	b.WriteString("TARGETED CODE:\n")
	b.WriteString(strings.Join(targets, "\n\n---\n\n"))
	b.WriteString("\n\nTask:\n")
	b.WriteString("1. Identify two hidden edge cases or vulnerabilities.\n")
	b.WriteString("2. Write advanced pytest functions that fail against the current implementation.\n")
	fmt.Fprintf(&b, "Return them as a single file with path %s.\n", AuditPath)
	return b.String()
}
