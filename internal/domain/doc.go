// Package domain models monthly drought observations and the REGCDI
// (Regional Comprehensive Drought Index) predictions derived from them.
//
// # Input Features
//
// Every time step is one calendar month described by seven numeric features,
// always fed to the model in this canonical order:
//
//	rainfall_mm    monthly cumulative rainfall (mm)
//	tmax_c         mean daily maximum temperature (°C)
//	tmin_c         mean daily minimum temperature (°C)
//	spei           Standardized Precipitation Evapotranspiration Index
//	spi            Standardized Precipitation Index
//	ndvi           Normalized Difference Vegetation Index, bounded [0, 1]
//	soil_moisture  volumetric soil moisture (%), bounded [0, 100]
//
// The canonical order is fixed by the feature configuration artifact that
// ships with the trained model. Uploaded tables may carry the columns in any
// order and may include extra columns (dates, station names); those are
// ignored by [Schema.Project].
//
// # Windows
//
// The model consumes exactly [WindowLength] consecutive months. A table of N
// months yields N-11 overlapping rolling windows; window i covers rows
// [i, i+11] inclusive.
//
// # Severity Classification
//
// The inverse-scaled model output (the REGCDI domain index, roughly -2..2) is
// bucketed with half-open intervals whose shared edge belongs to the higher
// bucket:
//
//	index >= 0.5           no_drought  "No Drought"
//	0.0 <= index < 0.5     mild        "Mild Drought"
//	-0.5 <= index < 0.0    moderate    "Moderate Drought"
//	-1.0 <= index < -0.5   severe      "Severe Drought"
//	index < -1.0           extreme     "Extreme Drought"
//
// # Confidence
//
// Confidence is a heuristic, not a calibrated probability:
//
//	confidence = min(1, 0.5 + 0.25 * d)
//
// where d is the distance from the index to the nearest bucket edge in
// {-1.0, -0.5, 0.0, 0.5}. Values sitting on an edge report 0.5; values two
// units away from every edge saturate at 1.0.
package domain
