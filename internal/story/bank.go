package story

// questionBank holds six canonical questions per archetype: three dig, two
// impact, one growth. Order inside a phase matters: answer routing relies on
// dig #2 asking for the decision and people, impact #1 for the counterfactual
// and impact #2 for a number.
var questionBank = map[Archetype][]WizardQuestion{
	Firefighter: {
		{Phase: PhaseDig, Question: "What was actually on fire, and how did you find out?", Hint: "The alert, the customer message, the hallway conversation."},
		{Phase: PhaseDig, Question: "What was the call you made under pressure, and who was in the room with you?", Hint: "Name the people you worked with."},
		{Phase: PhaseDig, Question: "What made this harder to fix than it looked?", Options: []string{"Missing observability", "Unclear ownership", "Risky rollback", "Time pressure"}},
		{Phase: PhaseImpact, Question: "If nobody had stepped in, what would have happened next?", Hint: "Lost revenue, broken SLA, angry customers."},
		{Phase: PhaseImpact, Question: "How big was the blast radius, in numbers?", Hint: "Users affected, minutes of downtime, dollars at risk."},
		{Phase: PhaseGrowth, Question: "What do you do differently on-call since this incident?"},
	},
	Architect: {
		{Phase: PhaseDig, Question: "What problem did the old design cause that made you build something new?"},
		{Phase: PhaseDig, Question: "What was the key design decision, and who did you convince or work with on it?", Hint: "Name the people involved."},
		{Phase: PhaseDig, Question: "What constraint or trade-off fought you the hardest?", Options: []string{"Backwards compatibility", "Performance", "Deadline", "Team skills"}},
		{Phase: PhaseImpact, Question: "Without this system, what would the team still be struggling with?"},
		{Phase: PhaseImpact, Question: "What number changed because of the design?", Hint: "Latency, cost, deploy frequency, incidents per month."},
		{Phase: PhaseGrowth, Question: "What would you design differently if you started again tomorrow?"},
	},
	Diplomat: {
		{Phase: PhaseDig, Question: "Where did the groups disagree, and what was really behind it?"},
		{Phase: PhaseDig, Question: "What did you decide to propose, and who did you have to bring on board?", Hint: "Name the people or teams."},
		{Phase: PhaseDig, Question: "What almost derailed the agreement?"},
		{Phase: PhaseImpact, Question: "If the teams had stayed misaligned, what would have shipped late or not at all?"},
		{Phase: PhaseImpact, Question: "How many people, teams or weeks did the alignment touch?"},
		{Phase: PhaseGrowth, Question: "What did you learn about getting people to agree?"},
	},
	Multiplier: {
		{Phase: PhaseDig, Question: "What was slowing the team down before you stepped in?"},
		{Phase: PhaseDig, Question: "What did you choose to invest in, and who did you teach or unblock?", Hint: "Name the people who benefited."},
		{Phase: PhaseDig, Question: "What made it hard to change how people worked?"},
		{Phase: PhaseImpact, Question: "Without your help, where would those people be now?"},
		{Phase: PhaseImpact, Question: "How much faster or better did the team get, in numbers?", Hint: "Onboarding days, review time, people trained."},
		{Phase: PhaseGrowth, Question: "What did teaching this teach you?"},
	},
	Detective: {
		{Phase: PhaseDig, Question: "What was the symptom, and why was it so hard to explain?"},
		{Phase: PhaseDig, Question: "What hunch or decision cracked the case, and who helped you chase it?", Hint: "Name the people involved."},
		{Phase: PhaseDig, Question: "Which false lead cost you the most time?"},
		{Phase: PhaseImpact, Question: "If the root cause had stayed hidden, what would have kept happening?"},
		{Phase: PhaseImpact, Question: "How often did it happen, or how much did it cost, before the fix?"},
		{Phase: PhaseGrowth, Question: "What is in your debugging toolkit now that was not before?"},
	},
	Pioneer: {
		{Phase: PhaseDig, Question: "What did you try that nobody on the team had done before?"},
		{Phase: PhaseDig, Question: "What made you decide to bet on it, and who backed you?", Hint: "Name the people involved."},
		{Phase: PhaseDig, Question: "What was the scariest unknown when you started?", Options: []string{"Technical feasibility", "Adoption", "Approval", "Time"}},
		{Phase: PhaseImpact, Question: "If you had not explored this, what opportunity would have been missed?"},
		{Phase: PhaseImpact, Question: "What did the first version prove, in numbers?", Hint: "Users, signups, speedup, cost."},
		{Phase: PhaseGrowth, Question: "What would you tell the next person starting something from zero?"},
	},
	Turnaround: {
		{Phase: PhaseDig, Question: "How bad was it when you picked this up, honestly?"},
		{Phase: PhaseDig, Question: "What was the first decision you made to change direction, and who went along with it?", Hint: "Name the people involved."},
		{Phase: PhaseDig, Question: "What resistance did you run into?"},
		{Phase: PhaseImpact, Question: "If it had kept going the way it was, how would it have ended?"},
		{Phase: PhaseImpact, Question: "Where did it land, in numbers, compared with where it was headed?", Hint: "Weeks recovered, budget saved, scope delivered."},
		{Phase: PhaseGrowth, Question: "What warning signs would you catch earlier next time?"},
	},
	Preventer: {
		{Phase: PhaseDig, Question: "What risk did you spot before anyone else did?"},
		{Phase: PhaseDig, Question: "What did you decide to do about it, and who did you need to convince?", Hint: "Name the people involved."},
		{Phase: PhaseDig, Question: "Why was it easy for everyone else to miss?"},
		{Phase: PhaseImpact, Question: "If you had not caught it, what would the incident have looked like?"},
		{Phase: PhaseImpact, Question: "How big was the exposure, in numbers?", Hint: "Records, customers, dollars, hours of downtime avoided."},
		{Phase: PhaseGrowth, Question: "How has this changed the way you review work?"},
	},
}
