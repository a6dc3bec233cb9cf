package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultTeacherPrompt is the persona every instruction starts with.
const DefaultTeacherPrompt = `Tu es un enseignant virtuel de la Fédération Wallonie Bruxelles. Tu expliques clairement, tu encourages l’autonomie et tu adoptes une posture bienveillante et pédagogique adaptée au niveau de l’élève.

Tu dois toujours utiliser en priorité les documents de cours fournis par le professeur. Ces documents sont déposés sous forme de fichiers PDF, Word ou images, éventuellement convertis par OCR, et sont organisés en chapitres ou dossiers que l’enseignant définit. Tu respectes cette structuration et tu considères ces documents comme la source principale du cours. Si une ressource du professeur contredit une source externe, tu suis toujours la ressource du professeur. Tu peux compléter par tes connaissances générales uniquement si les documents disponibles ne suffisent pas.

Le système transmet à chaque requête une sélection des extraits les plus pertinents issus des documents du professeur. Tu dois t’appuyer en priorité sur ces extraits pour répondre et tu peux citer l’endroit du cours lorsque c’est utile.

L’enseignant ou l’administrateur peut activer ou désactiver l’aide aux devoirs et aux évaluations à l’aide des paramètres aide_devoirs_autorisee et aide_evaluations_autorisee.
Si l’aide est autorisée, tu expliques la démarche, tu donnes des pistes, tu proposes des exemples proches tout en favorisant la réflexion.
Si l’aide est interdite, tu refuses poliment de faire ou corriger le devoir ou l’évaluation, tu rappelles la règle, puis tu aides uniquement à comprendre la notion générale sans résoudre directement la consigne.

Tu t’adaptes automatiquement au rôle de l’utilisateur.
Si c’est un élève, tu réponds avec un niveau adapté et un ton encourageant.
Si c’est un professeur, tu peux proposer des pistes pédagogiques, des adaptations, des exemples pour sa préparation de cours.
Si c’est un administrateur, tu peux répondre sur l’organisation générale et l’usage de l’outil.

Tu restes conforme aux référentiels FWB. Tu évites tout contenu discriminatoire, tu expliques de manière structurée, tu valorises les efforts et tu t’assures que les réponses sont claires, pédagogiques et cohérentes.

RÈGLE IMPORTANTE : Il n'est pas nécessaire de reprendre systématiquement "En Fédération Wallonie-Bruxelles". Sois naturel et direct.`

// OralNote is appended to the instruction of live voice sessions.
const OralNote = "NOTE: Nous sommes en mode conversation orale. Sois concis, encourageant et naturel. Corrige la prononciation si nécessaire."

// NoResources replaces the resource listing when the teacher supplied none.
const NoResources = "Aucune ressource spécifique fournie."

const behaviourLogic = `LOGIQUE DE COMPORTEMENT:
1. Si role_utilisateur="eleve":
   - APPLIQUE D'ABORD les Consignes Disciplinaires et Comportementales ci-dessus. Si une règle n'est pas respectée (ex: politesse), interviens immédiatement.
   - Si les règles sont respectées, aide selon les flags aide_devoirs/aide_evaluations.
   - Si un "chapitre_cible" est défini, concentre-toi sur les documents de ce chapitre.
2. Si role_utilisateur="professeur":
   - Agis comme un collègue (scénarios, adaptations).
3. Si role_utilisateur="admin":
   - Support technique/global.
`

// chapterGroup is the resources of one chapter in first-appearance order.
type chapterGroup struct {
	name string
	docs []Resource
}

func groupByChapter(resources []Resource) []chapterGroup {
	var groups []chapterGroup
	index := make(map[string]int)
	for _, r := range resources {
		c := r.chapter()
		i, ok := index[c]
		if !ok {
			i = len(groups)
			index[c] = i
			groups = append(groups, chapterGroup{name: c})
		}
		groups[i].docs = append(groups[i].docs, r)
	}
	return groups
}

// PriorityIDs returns the IDs of the resources filed under the active
// chapter, in order. It is empty when no chapter is active.
func PriorityIDs(s Settings) []string {
	ids := []string{}
	if s.ActiveChapter == "" {
		return ids
	}
	for _, r := range s.Resources {
		if r.chapter() == s.ActiveChapter {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// BuildSystemInstruction renders s into the full system instruction: the
// teacher persona, the session parameter block, the custom rules, the
// resources grouped by chapter and the role-dependent behaviour.
//
// The result is deterministic for a given s.
func BuildSystemInstruction(s Settings) string {
	var sb strings.Builder

	sb.WriteString(DefaultTeacherPrompt)
	sb.WriteString("\n\n")

	// ── Session parameters ────────────────────────────────────────────────────
	sb.WriteString("\nPARAMÈTRES DE LA SESSION:\n{\n")
	fmt.Fprintf(&sb, "  \"role_utilisateur\": %s,\n", jsonValue(string(s.Role)))
	fmt.Fprintf(&sb, "  \"aide_devoirs_autorisee\": %t,\n", s.HomeworkHelp)
	fmt.Fprintf(&sb, "  \"aide_evaluations_autorisee\": %t,\n", s.AssessmentHelp)
	fmt.Fprintf(&sb, "  \"chapitre_cible\": %s,\n", jsonValue(s.ActiveChapter))
	fmt.Fprintf(&sb, "  \"id_ressources_prof\": %s,\n", jsonValue(PriorityIDs(s)))
	fmt.Fprintf(&sb, "  \"niveau_classe\": %s\n", jsonValue(s.ClassLevel))
	sb.WriteString("}\n")
	sb.WriteString("\n\n")

	// ── Custom rules ──────────────────────────────────────────────────────────
	if s.CustomInstructions != "" {
		sb.WriteString("\nCONSIGNES DISCIPLINAIRES ET COMPORTEMENTALES SPÉCIFIQUES (À APPLIQUER AVANT TOUTE RÉPONSE):\n")
		sb.WriteString(s.CustomInstructions)
		sb.WriteString("\n")
	}
	sb.WriteString("\n\n")

	// ── Resources ─────────────────────────────────────────────────────────────
	sb.WriteString("RESSOURCES ENSEIGNANT (Documents sources):\n")
	sb.WriteString("Tu dois baser tes réponses prioritairement sur les contenus ci-dessous.\n")
	groups := groupByChapter(s.Resources)
	if len(groups) == 0 {
		sb.WriteString(NoResources)
	}
	for _, g := range groups {
		fmt.Fprintf(&sb, "\n[CHAPITRE/DOSSIER: %s]", g.name)
		if s.ActiveChapter != "" && g.name == s.ActiveChapter {
			sb.WriteString(" (CIBLE PRIORITAIRE)")
		}
		sb.WriteString("\n")
		for _, d := range g.docs {
			fmt.Fprintf(&sb, "-- Document (ID: %s): %s\n", d.ID, d.Title)
			fmt.Fprintf(&sb, "   Contenu: %s\n", d.Content)
		}
	}
	sb.WriteString("\n\n")

	sb.WriteString(behaviourLogic)
	return sb.String()
}

// BuildLiveInstruction is BuildSystemInstruction followed by the oral
// conversation note. An empty note falls back to [OralNote].
func BuildLiveInstruction(s Settings, note string) string {
	if note == "" {
		note = OralNote
	}
	return BuildSystemInstruction(s) + "\n\n" + note
}

// jsonValue renders v as compact JSON without HTML escaping.
func jsonValue(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return `""`
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
