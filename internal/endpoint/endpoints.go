package endpoint

// Default returns the registry of Oura v2 usercollection endpoints in the
// order a full sync processes them.
func Default() *Registry {
	r, err := NewRegistry(
		dailyActivity(),
		simple("daily_cardiovascular_age", "day", Key("day"), Col("vascular_age")),
		dailyReadiness(),
		simple("daily_resilience", "day", fields(
			[]Field{Key("day"), Col("level")},
			Flatten("contributors", "sleep_recovery", "daytime_recovery", "stress"),
		)...),
		sleep(),
		simple("daily_sleep", "day", fields(
			[]Field{Key("day"), Col("score")},
			Flatten("contributors", "deep_sleep", "efficiency", "latency", "rem_sleep",
				"restfulness", "timing", "total_sleep"),
		)...),
		simple("sleep_time", "id",
			Key("id"),
			Col("day"),
			From("optimal_bedtime_start", "optimal_bedtime.start_offset"),
			From("optimal_bedtime_end", "optimal_bedtime.end_offset"),
			From("optimal_bedtime_tz", "optimal_bedtime.day_tz"),
			Col("recommendation"),
			Col("status"),
		),
		simple("daily_spo2", "day",
			Key("day"),
			From("spo2_percentage_average", "spo2_percentage.average"),
			Col("breathing_disturbance_index"),
		),
		simple("daily_stress", "day", Key("day"), Col("stress_high"), Col("recovery_high"), Col("day_summary")),
		simple("daily_vo2_max", "day", Key("day"), Col("vo2_max")),
		simple("workout", "id", fields(
			[]Field{Key("id")},
			Cols("day", "activity", "calories", "distance", "start_datetime", "end_datetime",
				"intensity", "label", "source"),
		)...),
	)
	if err != nil {
		// the table above is static; a failure here is a programming error
		panic(err)
	}
	return r
}

func dailyActivity() Descriptor {
	return simple("daily_activity", "day", fields(
		[]Field{Key("day")},
		Cols("score", "active_calories", "total_calories", "steps", "equivalent_walking_distance",
			"low_activity_time", "medium_activity_time", "high_activity_time", "resting_time",
			"sedentary_time", "non_wear_time", "average_met_minutes", "high_activity_met_minutes",
			"medium_activity_met_minutes", "low_activity_met_minutes", "sedentary_met_minutes",
			"inactivity_alerts", "target_calories", "target_meters", "meters_to_target"),
		Flatten("contributors", "meet_daily_targets", "move_every_hour", "recovery_time",
			"stay_active", "training_frequency", "training_volume"),
	)...)
}

func dailyReadiness() Descriptor {
	return simple("daily_readiness", "day", fields(
		[]Field{Key("day")},
		Cols("score", "temperature_deviation", "temperature_trend_deviation"),
		Flatten("contributors", "activity_balance", "body_temperature", "hrv_balance",
			"previous_day_activity", "previous_night", "recovery_index", "resting_heart_rate",
			"sleep_balance", "sleep_regularity"),
	)...)
}

// sleep renames the *_duration fields and keeps the intra-night heart rate
// and HRV series as opaque JSON.
func sleep() Descriptor {
	return simple("sleep", "id",
		Key("id"),
		Col("day"),
		Col("bedtime_start"),
		Col("bedtime_end"),
		From("duration", "time_in_bed"),
		From("total_sleep", "total_sleep_duration"),
		Col("awake_time"),
		From("light_sleep", "light_sleep_duration"),
		From("deep_sleep", "deep_sleep_duration"),
		From("rem_sleep", "rem_sleep_duration"),
		Col("restless_periods"),
		Col("efficiency"),
		Col("latency"),
		Col("type"),
		Col("readiness_score_delta"),
		Col("average_breath"),
		Col("average_heart_rate"),
		Col("average_hrv"),
		Col("lowest_heart_rate"),
		Blob("heart_rate"),
		Blob("hrv"),
		Col("sleep_phase_5_min"),
		Col("movement_30_sec"),
		Col("sleep_score_delta"),
		Col("period"),
		Col("low_battery_alert"),
	)
}
