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
package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInterpolate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		vars     map[string]interface{}
		want     string
	}{
		{
			name:     "basic substitution",
			template: "Bonjour {nom}, votre facture {numero} est en attente.",
			vars:     map[string]interface{}{"nom": "Dupont SARL", "numero": "F-2026-118"},
			want:     "Bonjour Dupont SARL, votre facture F-2026-118 est en attente.",
		},
		{
			name:     "accented variable name",
			template: "Cher {prénom}, bienvenue.",
			vars:     map[string]interface{}{"prénom": "Aurélie"},
			want:     "Cher Aurélie, bienvenue.",
		},
		{
			name:     "missing variable keeps placeholder",
			template: "Relance pour {nom} ({statut})",
			vars:     map[string]interface{}{"nom": "Dupont"},
			want:     "Relance pour Dupont ({statut})",
		},
		{
			name:     "nil vars",
			template: "Aucune variable ici: {nom}",
			want:     "Aucune variable ici: {nom}",
		},
		{
			name:     "json number renders without decimals",
			template: "Montant: {montant} EUR",
			vars:     map[string]interface{}{"montant": float64(1200)},
			want:     "Montant: 1200 EUR",
		},
		{
			name:     "fractional number keeps decimals",
			template: "Taux: {taux}",
			vars:     map[string]interface{}{"taux": 19.6},
			want:     "Taux: 19.6",
		},
		{
			name:     "list joins with commas",
			template: "Destinataires: {emails}",
			vars:     map[string]interface{}{"emails": []string{"a@b.fr", "c@d.fr"}},
			want:     "Destinataires: a@b.fr, c@d.fr",
		},
		{
			name:     "json array joins with commas",
			template: "Options: {options}",
			vars:     map[string]interface{}{"options": []interface{}{"devis", float64(3)}},
			want:     "Options: devis, 3",
		},
		{
			name:     "multiline values survive",
			template: "Adresse:\n{adresse}",
			vars:     map[string]interface{}{"adresse": "12 rue de la Paix\n75002 Paris"},
			want:     "Adresse:\n12 rue de la Paix\n75002 Paris",
		},
		{
			name:     "nul bytes stripped",
			template: "Nom: {nom}",
			vars:     map[string]interface{}{"nom": "Du\x00pont"},
			want:     "Nom: Dupont",
		},
		{
			name:     "bool and nil",
			template: "Actif: {actif}, vide: {vide}.",
			vars:     map[string]interface{}{"actif": true, "vide": nil},
			want:     "Actif: true, vide: .",
		},
		{
			name:     "same variable twice",
			template: "{nom} et encore {nom}",
			vars:     map[string]interface{}{"nom": "Dupont"},
			want:     "Dupont et encore Dupont",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Interpolate(tt.template, tt.vars))
		})
	}
}
