package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gridmind/gridmind/pkg/domain"
	"github.com/gridmind/gridmind/pkg/model"
)

// mappingTemperature is lower than the loop temperature: the mapping reply
// must be a bare JSON object, not a reasoning trace.
const mappingTemperature = 0.2

// FindSemanticMappings asks the reasoning service which columns of two
// tables carry the same meaning under different names. Without a provider,
// or when the reply cannot be decoded, it degrades to exact name matching.
func (a *Agent) FindSemanticMappings(ctx context.Context, tableA, tableB string) (*domain.MappingResult, error) {
	infoA, err := a.store.TableInfo(ctx, tableA)
	if err != nil {
		return nil, err
	}
	infoB, err := a.store.TableInfo(ctx, tableB)
	if err != nil {
		return nil, err
	}

	if a.provider == nil {
		return nameMatchMappings(infoA, infoB), nil
	}

	prompt := fmt.Sprintf(a.prompts.MappingPrompt, describeTableInfo(infoA), describeTableInfo(infoB))
	messages := []model.Message{
		{Role: domain.RoleSystem, Content: "You are a data analysis expert."},
		{Role: domain.RoleUser, Content: prompt},
	}

	text, err := a.provider.Chat(ctx, messages, mappingTemperature)
	if err != nil {
		slog.Warn("Semantic mapping request failed", "error", err)
		result := nameMatchMappings(infoA, infoB)
		result.ProviderError = err.Error()
		return result, nil
	}

	var result domain.MappingResult
	if err := json.Unmarshal([]byte(extractMappingJSON(text)), &result); err != nil {
		slog.Warn("Semantic mapping reply not decodable", "error", err)
		fallback := nameMatchMappings(infoA, infoB)
		fallback.ProviderError = err.Error()
		return fallback, nil
	}
	result.LLMUsed = true
	return &result, nil
}

// extractMappingJSON pulls the payload out of a reply that may wrap it in a
// markdown fence or surround it with prose.
func extractMappingJSON(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end])
		}
	}
	if obj := extractJSONObject(text); obj != "" {
		return obj
	}
	return strings.TrimSpace(text)
}

// nameMatchMappings pairs columns whose names match case-insensitively.
func nameMatchMappings(infoA, infoB *domain.TableInfo) *domain.MappingResult {
	result := &domain.MappingResult{Mappings: []domain.ColumnMapping{}}
	for _, colA := range infoA.ColumnNames {
		for _, colB := range infoB.ColumnNames {
			if strings.EqualFold(colA, colB) {
				result.Mappings = append(result.Mappings, domain.ColumnMapping{
					TableACol:  colA,
					TableBCol:  colB,
					Confidence: 1.0,
					Reason:     "exact name match",
				})
			}
		}
	}
	return result
}

func describeTableInfo(info *domain.TableInfo) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%d rows, %d columns)\n", info.Name, info.Rows, info.Columns)
	for _, col := range info.ColumnNames {
		fmt.Fprintf(&sb, "- %s: %s\n", col, info.Schema[col])
	}
	return sb.String()
}
