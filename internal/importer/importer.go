package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/telhawk-stack/alerting/internal/models"
)

// RuleFile represents a builtin correlation rule loaded from JSON,
// matching the Rule CRUD contract (spec §6) minus server-assigned
// fields (id, created_by are derived/fixed for builtins).
type RuleFile struct {
	Name                 string            `json:"name"`
	Description          string            `json:"description"`
	DefinitionCEL        string            `json:"definition_cel"`
	Timeframe            int               `json:"timeframe"`
	TimeUnit             models.TimeUnit   `json:"timeunit"`
	CreateOn             models.CreateOn   `json:"create_on"`
	Threshold            int               `json:"threshold"`
	ResolveOn            models.ResolveOn  `json:"resolve_on"`
	RequireApprove       bool              `json:"require_approve"`
	GroupingCriteria     []string          `json:"grouping_criteria"`
	IncidentPrefix       string            `json:"incident_prefix,omitempty"`
	IncidentNameTemplate string            `json:"incident_name_template,omitempty"`
	Assignee             string            `json:"assignee,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// CreateRuleRequest matches the rules service API's Rule CRUD contract.
type CreateRuleRequest struct {
	ID                   string           `json:"id,omitempty"`
	Name                 string           `json:"name"`
	DefinitionCEL        string           `json:"definition_cel"`
	Timeframe            int              `json:"timeframe"`
	TimeUnit             models.TimeUnit  `json:"timeunit"`
	CreateOn             models.CreateOn  `json:"create_on"`
	Threshold            int              `json:"threshold"`
	ResolveOn            models.ResolveOn `json:"resolve_on"`
	RequireApprove       bool             `json:"require_approve"`
	GroupingCriteria     []string         `json:"grouping_criteria"`
	IncidentPrefix       string           `json:"incident_prefix,omitempty"`
	IncidentNameTemplate string           `json:"incident_name_template,omitempty"`
	Assignee             string           `json:"assignee,omitempty"`
	CreatedBy            string           `json:"created_by"`
	ContentHash          string           `json:"content_hash"`
}

// Importer handles importing builtin correlation rules from JSON files
// into the external rules service.
type Importer struct {
	rulesDir   string
	rulesURL   string
	httpClient *http.Client
}

// NewImporter creates a new rule importer.
func NewImporter(rulesDir, rulesURL string) *Importer {
	return &Importer{
		rulesDir: rulesDir,
		rulesURL: rulesURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Import loads all builtin rules from the rules directory and imports them.
func (imp *Importer) Import(ctx context.Context) error {
	log.Printf("Starting rule import from %s", imp.rulesDir)

	if _, err := os.Stat(imp.rulesDir); os.IsNotExist(err) {
		log.Printf("Rules directory does not exist: %s", imp.rulesDir)
		return nil
	}

	files, err := filepath.Glob(filepath.Join(imp.rulesDir, "*.json"))
	if err != nil {
		return fmt.Errorf("failed to list rule files: %w", err)
	}

	if len(files) == 0 {
		log.Printf("No rule files found in %s", imp.rulesDir)
		return nil
	}

	log.Printf("Found %d rule file(s) to import", len(files))

	successCount := 0
	errorCount := 0

	for _, file := range files {
		if err := imp.importRuleFile(ctx, file); err != nil {
			log.Printf("ERROR: Failed to import %s: %v", filepath.Base(file), err)
			errorCount++
		} else {
			successCount++
		}
	}

	log.Printf("Rule import complete: %d succeeded, %d failed", successCount, errorCount)

	if errorCount > 0 {
		return fmt.Errorf("%d rule(s) failed to import", errorCount)
	}

	return nil
}

// importRuleFile imports a single builtin rule file.
func (imp *Importer) importRuleFile(ctx context.Context, filePath string) error {
	fileName := filepath.Base(filePath)
	log.Printf("Importing rule from %s", fileName)

	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var rule RuleFile
	if err := json.Unmarshal(data, &rule); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	if rule.Name == "" {
		return fmt.Errorf("rule missing required field: name")
	}
	if rule.DefinitionCEL == "" {
		return fmt.Errorf("rule missing required field: definition_cel")
	}
	if len(rule.GroupingCriteria) == 0 {
		return fmt.Errorf("rule missing required field: grouping_criteria")
	}

	ruleID := generateDeterministicUUID(rule.Name)

	if err := validateRuleID(filePath, rule.Name, ruleID); err != nil {
		return fmt.Errorf("CRITICAL: Rule ID validation failed for '%s': %w", rule.Name, err)
	}

	exists, currentHash, err := imp.checkRuleExists(ctx, ruleID)
	if err != nil {
		return fmt.Errorf("failed to check if rule exists: %w", err)
	}

	contentHash := calculateContentHash(rule)

	if exists {
		if currentHash == contentHash {
			log.Printf("  Rule '%s' already exists with same content, skipping", rule.Name)
			return nil
		}
		// Builtin rules exist but content changed - skip update to avoid conflicts.
		// TODO: implement proper versioning for builtin rule updates.
		log.Printf("  WARN: Rule '%s' exists with different content, but updates are skipped (builtin protection)", rule.Name)
		return nil
	}

	log.Printf("  Creating new rule '%s'", rule.Name)
	return imp.createRule(ctx, ruleID, rule, contentHash)
}

// checkRuleExists checks if a rule already exists and returns its content hash.
func (imp *Importer) checkRuleExists(ctx context.Context, ruleID string) (bool, string, error) {
	url := fmt.Sprintf("%s/%s", imp.rulesURL, ruleID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, http.NoBody)
	if err != nil {
		return false, "", err
	}

	resp, err := imp.httpClient.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, "", nil
	}

	if resp.StatusCode != http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return false, "", fmt.Errorf("unexpected status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return false, "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var response CreateRuleRequest
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return false, "", err
	}

	return true, response.ContentHash, nil
}

// createRule creates a new builtin rule with a deterministic ID.
func (imp *Importer) createRule(ctx context.Context, ruleID string, rule RuleFile, contentHash string) error {
	reqBody := CreateRuleRequest{
		ID:                   ruleID,
		Name:                 rule.Name,
		DefinitionCEL:        rule.DefinitionCEL,
		Timeframe:            rule.Timeframe,
		TimeUnit:             rule.TimeUnit,
		CreateOn:             rule.CreateOn,
		Threshold:            rule.Threshold,
		ResolveOn:            rule.ResolveOn,
		RequireApprove:       rule.RequireApprove,
		GroupingCriteria:     rule.GroupingCriteria,
		IncidentPrefix:       rule.IncidentPrefix,
		IncidentNameTemplate: rule.IncidentNameTemplate,
		Assignee:             rule.Assignee,
		CreatedBy:            "builtin",
		ContentHash:          contentHash,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal rule: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", imp.rulesURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := imp.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("create failed with status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("create failed with status %d: %s", resp.StatusCode, string(body))
	}

	log.Printf("  Successfully created rule '%s' with ID %s", rule.Name, ruleID)
	return nil
}

// generateDeterministicUUID generates a UUID v5 based on rule name so the
// same builtin rule name always gets the same ID across environments.
func generateDeterministicUUID(ruleName string) string {
	namespace := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8") // DNS namespace
	return uuid.NewSHA1(namespace, []byte("telhawk:builtin:"+ruleName)).String()
}

// validateRuleID validates that the .id file exists and contains the
// expected deterministic UUID, preventing ID drift across environments.
func validateRuleID(jsonFilePath, ruleName, expectedID string) error {
	idFilePath := jsonFilePath + ".id"

	idData, err := os.ReadFile(idFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf(".id file not found at %s - all rules MUST have committed .id files for deterministic UUIDs across environments", idFilePath)
		}
		return fmt.Errorf("failed to read .id file: %w", err)
	}

	fileID := string(bytes.TrimSpace(idData))

	if _, err := uuid.Parse(fileID); err != nil {
		return fmt.Errorf(".id file contains invalid UUID '%s': %w", fileID, err)
	}

	if fileID != expectedID {
		return fmt.Errorf(
			"ID MISMATCH: .id file contains '%s' but rule name '%s' generates '%s'. "+
				"This indicates the .id file is out of sync. "+
				"Regenerate .id files and commit to git.",
			fileID, ruleName, expectedID,
		)
	}

	log.Printf("  Validated rule ID: %s matches %s", ruleName, fileID)
	return nil
}

// calculateContentHash hashes the rule's matching/grouping semantics so a
// later run can detect whether the builtin definition changed.
func calculateContentHash(rule RuleFile) string {
	data, err := json.Marshal(map[string]interface{}{
		"definition_cel":         rule.DefinitionCEL,
		"timeframe":              rule.Timeframe,
		"timeunit":               rule.TimeUnit,
		"create_on":              rule.CreateOn,
		"threshold":              rule.Threshold,
		"resolve_on":             rule.ResolveOn,
		"require_approve":        rule.RequireApprove,
		"grouping_criteria":      rule.GroupingCriteria,
		"incident_prefix":        rule.IncidentPrefix,
		"incident_name_template": rule.IncidentNameTemplate,
	})
	if err != nil {
		log.Printf("Warning: failed to marshal rule for hashing: %v", err)
		return ""
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash[:8])
}
