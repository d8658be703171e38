package model

import "time"

// Plan is the workout and diet plan produced at the end of a voice
// interaction. The body (name, workout, diet) never changes after creation;
// only IsActive is toggled. A user has at most one active plan.
type Plan struct {
	ID          string      `json:"id"`
	UserID      string      `json:"userId"`
	Name        string      `json:"name"`
	WorkoutPlan WorkoutPlan `json:"workoutPlan"`
	DietPlan    DietPlan    `json:"dietPlan"`
	IsActive    bool        `json:"isActive"`
	CreatedAt   time.Time   `json:"-"`
}

type WorkoutPlan struct {
	Schedule  []string      `json:"schedule"`
	Exercises []ExerciseDay `json:"exercises"`
}

type ExerciseDay struct {
	Day      string    `json:"day"`
	Routines []Routine `json:"routines"`
}

// Numeric plan fields accept fractional values, e.g. 2150.5 calories.
type Routine struct {
	Name string  `json:"name"`
	Sets float64 `json:"sets"`
	Reps float64 `json:"reps"`
}

type DietPlan struct {
	DailyCalories float64 `json:"dailyCalories"`
	Meals         []Meal  `json:"meals"`
}

type Meal struct {
	Name  string   `json:"name"`
	Foods []string `json:"foods"`
}
