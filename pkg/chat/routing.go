// Copyright 2026 Atelier
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package chat orchestrates conversations: it hands turns off to the
// best-matching specialist agent, classifies the message for model
// routing, and drives the reply through the model router.
package chat

import "strings"

// OrchestratorID is the coordinator agent. It owns conversations that
// have not matched a specialist yet and never receives handoffs.
const OrchestratorID = "agent-orchestrator"

// routingRule binds one specialist agent to the vocabulary that pulls
// conversations toward it.
type routingRule struct {
	agentID     string
	keywords    []string
	description string
}

// routingRules holds the platform's specialist agents. Order matters:
// on a tied score the earlier rule wins.
var routingRules = []routingRule{
	{
		agentID:     "agent-prospection",
		keywords:    []string{"prospect", "prospecter", "démarcher", "nouveau client", "nouveaux clients", "trouver des clients", "email froid", "cold email", "cherche des clients", "acquisition client"},
		description: "prospection et démarchage",
	},
	{
		agentID:     "agent-devis",
		keywords:    []string{"devis", "proposition", "tarif", "prix", "offre commerciale", "chiffrer", "estimation"},
		description: "devis et propositions commerciales",
	},
	{
		agentID:     "agent-seo-audit",
		keywords:    []string{"audit", "analyser site", "seo", "référencement", "position google", "erreurs site", "performance"},
		description: "audit SEO et analyse de site",
	},
	{
		agentID:     "agent-seo-content",
		keywords:    []string{"article", "blog", "rédiger", "contenu", "texte", "page web", "fiche produit", "écrire"},
		description: "rédaction de contenu SEO",
	},
	{
		agentID:     "agent-facturation",
		keywords:    []string{"facture", "facturer", "paiement", "relance", "impayé", "encaissement", "règlement"},
		description: "facturation et relances",
	},
	{
		agentID:     "agent-planning",
		keywords:    []string{"planning", "agenda", "rendez-vous", "réunion", "organiser", "calendrier", "projet", "deadline"},
		description: "planning et organisation",
	},
	{
		agentID:     "agent-strategie",
		keywords:    []string{"stratégie", "concurrent", "positionnement", "marché", "décision", "business", "développer"},
		description: "stratégie et conseil",
	},
	{
		agentID:     "agent-reporting",
		keywords:    []string{"rapport", "reporting", "statistiques", "chiffres", "bilan", "tableau de bord", "kpi"},
		description: "reporting et analyse",
	},
}

// Handoff describes an in-conversation switch of the responding
// agent.
type Handoff struct {
	FromAgentID string `json:"from_agent_id,omitempty"`
	ToAgentID   string `json:"to_agent_id"`
	ToAgentName string `json:"to_agent_name,omitempty"`
	ToAgentIcon string `json:"to_agent_icon,omitempty"`
	Reason      string `json:"reason"`
}

// DetectHandoff scores the lowercased message against every routing
// rule by counting keyword substring matches. A best score of at
// least one for an agent other than the current one produces a
// handoff. Pure text matching; no model involved.
func DetectHandoff(message, currentAgentID string) *Handoff {
	lower := strings.ToLower(message)

	var best *routingRule
	bestScore := 0
	for i := range routingRules {
		rule := &routingRules[i]
		score := 0
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = rule
		}
	}

	if best == nil || best.agentID == currentAgentID {
		return nil
	}
	return &Handoff{
		FromAgentID: currentAgentID,
		ToAgentID:   best.agentID,
		Reason:      best.description,
	}
}
